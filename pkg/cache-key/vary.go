package cachekey

import (
	"net/http"
	"net/textproto"
	"strings"
)

// GetListHeader returns the comma-separated list values of the header field,
// trimmed and with empty members removed.
func GetListHeader(header http.Header, name string) []string {
	values := make([]string, 0)
	for _, line := range header.Values(name) {
		for _, v := range strings.Split(line, ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
	}
	return values
}

// ignoredVary reports whether a Vary member can be disregarded.
// Stored bodies are always decoded, so they suit any Accept-Encoding.
func ignoredVary(name string) bool {
	return textproto.CanonicalMIMEHeaderKey(name) == "Accept-Encoding"
}

// VaryHeaders picks the request header fields nominated by the response `Vary` header.
// These are stored alongside the response so a later request can be matched against them.
func VaryHeaders(req *http.Request, resHeader http.Header) http.Header {
	selected := make(http.Header)
	for _, name := range GetListHeader(resHeader, "Vary") {
		if name == "*" || ignoredVary(name) {
			continue
		}
		name = textproto.CanonicalMIMEHeaderKey(name)
		if values := req.Header.Values(name); len(values) > 0 {
			selected[name] = append([]string(nil), values...)
		}
	}
	return selected
}

// VaryMatches reports whether the request is a match for a response stored with
// the given Vary header and stored request header subset.
// A `Vary: *` response never matches. Accept-Encoding is not compared.
func VaryMatches(req *http.Request, resHeader, storedReqHeader http.Header) bool {
	for _, name := range GetListHeader(resHeader, "Vary") {
		if name == "*" {
			return false
		}
		if ignoredVary(name) {
			continue
		}
		if req.Header.Get(name) != storedReqHeader.Get(name) {
			return false
		}
	}
	return true
}
