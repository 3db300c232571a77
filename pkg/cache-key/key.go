package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const methodSeparator = ":"

type CacheKeyer struct {
	// Origin all request URIs are resolved against.
	Origin url.URL
}

func NewCacheKeyer(origin url.URL) CacheKeyer {
	origin.Path = ""
	origin.RawPath = ""
	origin.RawQuery = ""
	origin.Fragment = ""
	return CacheKeyer{Origin: origin}
}

// AbsoluteURL resolves the request URI against the origin.
// The fragment is never part of the result.
func (c CacheKeyer) AbsoluteURL(r *http.Request) string {
	return c.Resolve(r.URL.RequestURI())
}

// Resolve resolves a (possibly relative) path against the origin.
func (c CacheKeyer) Resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.Origin.String() + path
	}
	abs := c.Origin.ResolveReference(ref)
	abs.Fragment = ""
	abs.RawFragment = ""
	if abs.Path == "" {
		abs.Path = "/"
	}
	return abs.String()
}

// GetKey returns the cache key for the request: the method and the absolute URL.
// Only GET requests have keys.
func (c CacheKeyer) GetKey(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", ErrorMethodNotSupported
	}
	return r.Method + methodSeparator + c.AbsoluteURL(r), nil
}

// PathKey returns the cache key of a GET request for the given path.
func (c CacheKeyer) PathKey(path string) string {
	return http.MethodGet + methodSeparator + c.Resolve(path)
}

// GetRequestFromKey creates a GET request for the URL contained in the key.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}
