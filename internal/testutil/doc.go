// Package testutil holds fakes shared by the tracker's package tests.
package testutil
