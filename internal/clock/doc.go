// Package clock abstracts wall-clock time so that session boundaries and
// debounced uploads can be tested deterministically.
//
// Production code uses Real(). Tests use Fake(), which only moves when
// Advance is called and fires AfterFunc callbacks synchronously.
package clock
