package upload

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/roach88/beacon/internal/store"
)

// ProtocolVersion is the collector API version sent as "v".
const ProtocolVersion = 2

// Form field names.
const (
	FieldVersion    = "v"
	FieldClient     = "client"
	FieldEvents     = "e"
	FieldUploadTime = "upload_time"
	FieldChecksum   = "checksum"
)

// SerializationError reports a stored payload that could not be turned
// into the upload array. The batch is abandoned; its records stay stored.
type SerializationError struct {
	RecordID int64
	Err      error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize record %d: %v", e.RecordID, e.Err)
}

// Unwrap returns the underlying error.
func (e *SerializationError) Unwrap() error {
	return e.Err
}

// EncodeEvents decodes every payload in the batch, adds its local id as
// "event_id" and returns the JSON array sent as "e".
//
// Numbers are decoded with UseNumber so integer timestamps and ids round
// trip exactly. Object keys come out sorted, which makes the array (and so
// the checksum) a pure function of the batch.
func EncodeEvents(batch store.Batch) (string, error) {
	docs := make([]map[string]any, 0, len(batch.Records))
	for _, r := range batch.Records {
		dec := json.NewDecoder(bytes.NewReader([]byte(r.Payload)))
		dec.UseNumber()

		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			return "", &SerializationError{RecordID: r.ID, Err: err}
		}
		if doc == nil {
			return "", &SerializationError{RecordID: r.ID, Err: fmt.Errorf("payload is not an object")}
		}
		doc["event_id"] = r.ID
		docs = append(docs, doc)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(docs); err != nil {
		return "", &SerializationError{RecordID: batch.MaxID, Err: err}
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Checksum returns the lowercase hex MD5 of version, apiKey, events and
// uploadTime concatenated in that order.
func Checksum(version, apiKey, events, uploadTime string) string {
	sum := md5.Sum([]byte(version + apiKey + events + uploadTime))
	return hex.EncodeToString(sum[:])
}

// Form builds the url-encoded request body for one upload.
func Form(apiKey, events string, uploadTime int64) url.Values {
	version := strconv.Itoa(ProtocolVersion)
	ts := strconv.FormatInt(uploadTime, 10)

	form := url.Values{}
	form.Set(FieldVersion, version)
	form.Set(FieldClient, apiKey)
	form.Set(FieldEvents, events)
	form.Set(FieldUploadTime, ts)
	form.Set(FieldChecksum, Checksum(version, apiKey, events, ts))
	return form
}
