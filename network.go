package offlinecache

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
)

// network sends requests to the origin.
type network struct {
	client     *http.Client
	originURL  url.URL
	originHost string
}

func newNetwork(originURL url.URL, originHost string, transport http.RoundTripper) network {
	// use provided hostname for origin if configured
	if transport == nil && originHost != "" {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return network{
		client: &http.Client{
			Transport: transport,
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		originURL:  originURL,
		originHost: originHost,
	}
}

// fetch the resource specified in the incoming request from the origin
func (n network) fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	uri := n.originURL.Scheme + "://" + n.originURL.Host + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, uri, body)
	if err != nil {
		return nil, err
	}
	if n.originHost != "" {
		req.Host = n.originHost
	}
	req.ContentLength = r.ContentLength
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	// the transport negotiates and decodes compression itself,
	// so stored bodies are always identity-encoded
	req.Header.Del("Accept-Encoding")
	return n.client.Do(req)
}
