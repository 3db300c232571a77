package contact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

var ErrEndpointNotConfigured = errors.New("form endpoint not configured")

const formSubmitBase = "https://formsubmit.co/ajax/"

// RemoteStatusError is returned when the form endpoint answers with a non-2xx status.
type RemoteStatusError struct {
	StatusCode int
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("form endpoint returned status %d", e.StatusCode)
}

type RelayConfig struct {
	// Custom endpoint receiving the JSON payload. Takes precedence over Email.
	Endpoint string
	// Address to relay messages to through FormSubmit.
	Email string
	// Site name used in the relayed mail subject.
	SiteName string
	// Client for remote requests. http.DefaultClient is used if nil.
	Client *http.Client
	// Logger to use. A disabled logger is used if nil.
	Logger *zerolog.Logger
}

// Relay sends validated submissions to the remote form endpoint.
// It never retries; a failed submission is reported to the caller.
type Relay struct {
	endpoint string
	formMail bool
	siteName string
	client   *http.Client
	log      zerolog.Logger
}

// NewRelay resolves the endpoint: a custom endpoint wins, otherwise the
// FormSubmit endpoint for the contact e-mail is used.
// It returns ErrEndpointNotConfigured if neither is set.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	r := &Relay{
		siteName: cfg.SiteName,
		client:   cfg.Client,
		log:      zerolog.Nop(),
	}
	if cfg.Logger != nil {
		r.log = cfg.Logger.With().Str("component", "contact").Logger()
	}
	if r.client == nil {
		r.client = http.DefaultClient
	}
	switch {
	case cfg.Endpoint != "":
		r.endpoint = cfg.Endpoint
	case cfg.Email != "":
		r.endpoint = formSubmitBase + escapeComponent(cfg.Email)
		r.formMail = true
	default:
		return nil, ErrEndpointNotConfigured
	}
	return r, nil
}

// escapeComponent escapes s for use as a single URL path segment,
// reserved characters like '@' included.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func (r *Relay) Endpoint() string {
	return r.endpoint
}

// Send posts the submission as JSON. Any 2xx response is a success,
// whatever the body contains.
func (r *Relay) Send(ctx context.Context, s Submission) error {
	if r.formMail {
		s.MailSubject = fmt.Sprintf("New message from %s: %s", r.siteName, s.Subject)
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		r.log.Error().Err(err).Str("endpoint", r.endpoint).Msg("Form submit failed")
		return fmt.Errorf("post submission: %w", err)
	}
	defer res.Body.Close()
	// drain so the connection can be reused; the body need not be JSON
	io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		r.log.Error().Int("status", res.StatusCode).Str("endpoint", r.endpoint).Msg("Form submit failed")
		return &RemoteStatusError{StatusCode: res.StatusCode}
	}
	r.log.Info().Str("endpoint", r.endpoint).Msg("Form submitted")
	return nil
}
