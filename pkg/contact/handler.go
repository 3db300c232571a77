package contact

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"
)

const (
	StatusSent   = "Thank you! Your message has been sent."
	StatusFailed = "Something went wrong. Please try again later."

	ToastSent           = "Message sent successfully"
	ToastFailed         = "Send failed. Try again."
	ToastInvalid        = "Please fix the highlighted fields"
	ToastNotConfigured  = "Form endpoint not configured"
	ToastSpam           = "Spam detected."
	maxSubmissionLength = 64 << 10
)

// Result is the JSON body answered to the page submitting the form.
type Result struct {
	OK     bool             `json:"ok"`
	Status string           `json:"status,omitempty"`
	Toast  string           `json:"toast"`
	Errors ValidationErrors `json:"errors,omitempty"`
}

// form is the posted form: the submission plus the honeypot field,
// which people never see and never fill in.
type form struct {
	Submission
	Company string `json:"company"`
}

// Handler accepts a JSON submission, validates it and relays it.
// Relay may be nil, in which case every valid submission is answered with 503.
type Handler struct {
	Relay *Relay
	// Public origin of the site, sent along as the `website` field.
	// If empty, it is derived from the request.
	Website string
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var f form
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionLength)).Decode(&f); err != nil {
		writeResult(w, http.StatusBadRequest, Result{Toast: ToastInvalid})
		return
	}
	if strings.TrimSpace(f.Company) != "" {
		hlog.FromRequest(r).Info().Msg("Contact form honeypot filled, dropping submission")
		writeResult(w, http.StatusBadRequest, Result{Toast: ToastSpam})
		return
	}
	s := f.Submission.Trimmed()
	s.MailSubject = ""
	s.Website = h.Website
	if s.Website == "" {
		s.Website = requestOrigin(r)
	}

	var verrs ValidationErrors
	if err := s.Validate(); errors.As(err, &verrs) {
		writeResult(w, http.StatusUnprocessableEntity, Result{Toast: ToastInvalid, Errors: verrs})
		return
	}
	if h.Relay == nil {
		writeResult(w, http.StatusServiceUnavailable, Result{Toast: ToastNotConfigured})
		return
	}
	if err := h.Relay.Send(r.Context(), s); err != nil {
		writeResult(w, http.StatusBadGateway, Result{Status: StatusFailed, Toast: ToastFailed})
		return
	}
	writeResult(w, http.StatusOK, Result{OK: true, Status: StatusSent, Toast: ToastSent})
}

// requestOrigin is the origin the client used to reach the site.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}

func writeResult(w http.ResponseWriter, code int, res Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(res)
}
