// Package cachestatus builds the `Cache-Status` response header field (RFC 9211).
package cachestatus

import "fmt"

const cacheName = "Offline-Cache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdVaryMiss FwdReason = "vary-miss"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) IsHit() bool {
	return cs.Status == StatusHit
}

func (cs CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", cacheName, cs.Status)
	if cs.Status == StatusFwd && cs.FwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status = status + "; stored"
	}
	if cs.Detail != "" {
		status = status + "; detail=" + cs.Detail
	}
	return status
}
