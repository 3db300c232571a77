package cachekey

import (
	"net/http"
	"net/url"
	"testing"
)

func newKeyer(t *testing.T) CacheKeyer {
	origin, err := url.Parse("https://dct.example/some/path?q=1")
	if err != nil {
		t.Fatal(err)
	}
	return NewCacheKeyer(*origin)
}

func TestKeyIsMethodAndAbsoluteURL(t *testing.T) {
	keygen := newKeyer(t)
	r, _ := http.NewRequest("GET", "/services.html?tab=2#pricing", nil)
	key, err := keygen.GetKey(r)
	if err != nil {
		t.Fatal(err)
	}
	if key != "GET:https://dct.example/services.html?tab=2" {
		t.Fatalf("Key is %s", key)
	}
}

func TestPathKeyEqualsRequestKey(t *testing.T) {
	keygen := newKeyer(t)
	r, _ := http.NewRequest("GET", "/assets/Dct logo-01.jpg", nil)
	key, _ := keygen.GetKey(r)
	if pk := keygen.PathKey("/assets/Dct logo-01.jpg"); pk != key {
		t.Fatalf("Path key %s differs from request key %s", pk, key)
	}
	if root := keygen.PathKey("/"); root != "GET:https://dct.example/" {
		t.Fatalf("Root key is %s", root)
	}
}

func TestNonGetHasNoKey(t *testing.T) {
	keygen := newKeyer(t)
	r, _ := http.NewRequest("POST", "/contact.html", nil)
	if _, err := keygen.GetKey(r); err != ErrorMethodNotSupported {
		t.Fatalf("Expected ErrorMethodNotSupported, got %v", err)
	}
}

func TestRequestFromKey(t *testing.T) {
	keygen := newKeyer(t)
	key := keygen.PathKey("/page")
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if u := req.URL.String(); u != "https://dct.example/page" {
		t.Fatalf("Created request url for key %s is %s", key, u)
	}
}

func TestVaryMatching(t *testing.T) {
	resHeader := http.Header{}
	resHeader.Set("Vary", "Accept-Encoding, accept-language")

	stored, _ := http.NewRequest("GET", "/", nil)
	stored.Header.Set("Accept-Encoding", "gzip")
	stored.Header.Set("Accept-Language", "en")
	storedHeader := VaryHeaders(stored, resHeader)

	same, _ := http.NewRequest("GET", "/", nil)
	same.Header.Set("Accept-Encoding", "gzip")
	same.Header.Set("Accept-Language", "en")
	if !VaryMatches(same, resHeader, storedHeader) {
		t.Fatalf("Identical request did not match")
	}

	if _, ok := storedHeader["Accept-Encoding"]; ok {
		t.Fatalf("Accept-Encoding stored with response: %v", storedHeader)
	}

	// bodies are stored decoded, so encoding never splits entries
	otherEncoding, _ := http.NewRequest("GET", "/", nil)
	otherEncoding.Header.Set("Accept-Encoding", "br")
	otherEncoding.Header.Set("Accept-Language", "en")
	if !VaryMatches(otherEncoding, resHeader, storedHeader) {
		t.Fatalf("Request with different encoding did not match")
	}
	noEncoding, _ := http.NewRequest("GET", "/", nil)
	noEncoding.Header.Set("Accept-Language", "en")
	if !VaryMatches(noEncoding, resHeader, http.Header{"Accept-Language": {"en"}}) {
		t.Fatalf("Request without encoding did not match")
	}

	other, _ := http.NewRequest("GET", "/", nil)
	other.Header.Set("Accept-Language", "am")
	if VaryMatches(other, resHeader, storedHeader) {
		t.Fatalf("Request with different language matched")
	}

	resHeader.Set("Vary", "*")
	if VaryMatches(same, resHeader, storedHeader) {
		t.Fatalf("Vary: * matched")
	}
}
