package serializer

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is a response as captured at fetch time.
// It carries the request header fields the response varies on,
// so that a later request can be matched against it.
type Snapshot struct {
	Method        string      `msgpack:"method"`
	URL           string      `msgpack:"url"`
	RequestHeader http.Header `msgpack:"req_header"`
	StatusCode    int         `msgpack:"status"`
	Header        http.Header `msgpack:"header"`
	Body          []byte      `msgpack:"body"`
	StoredAt      time.Time   `msgpack:"stored_at"`
}

// Capture reads the response body into a snapshot and
// replaces the body of res with an identical, unread copy.
// This way the response can both be stored and returned to the client.
func Capture(res *http.Response, requestHeader http.Header) (Snapshot, error) {
	snap := Snapshot{
		StatusCode:    res.StatusCode,
		Header:        res.Header.Clone(),
		RequestHeader: requestHeader,
		StoredAt:      time.Now(),
	}
	if res.Request != nil {
		snap.Method = res.Request.Method
		snap.URL = res.Request.URL.String()
	}
	if res.Body != nil {
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		res.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			return snap, fmt.Errorf("read response body: %w", err)
		}
		snap.Body = body
	}
	if snap.Header == nil {
		snap.Header = make(http.Header)
	}
	return snap, nil
}

// Response creates a fresh response from the snapshot.
// Every call returns a new body reader.
func (s Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(s.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.StatusCode, http.StatusText(s.StatusCode)),
		StatusCode:    s.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

func Marshal(s Snapshot) ([]byte, error) {
	return msgpack.Marshal(&s)
}

func Unmarshal(b []byte) (Snapshot, error) {
	var s Snapshot
	err := msgpack.Unmarshal(b, &s)
	return s, err
}
