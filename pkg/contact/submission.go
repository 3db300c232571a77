// Package contact validates contact-form submissions and relays them
// to a remote form endpoint.
package contact

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?\d[\d\s-]{6,}$`)
)

const minMessageLength = 10

// Submission is the payload sent to the form endpoint.
type Submission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	Website string `json:"website"`
	// Subject line used by the mail relay. Only set when relaying through FormSubmit.
	MailSubject string `json:"_subject,omitempty"`
}

// Trimmed returns the submission with surrounding whitespace removed from every field.
func (s Submission) Trimmed() Submission {
	s.Name = strings.TrimSpace(s.Name)
	s.Email = strings.TrimSpace(s.Email)
	s.Phone = strings.TrimSpace(s.Phone)
	s.Subject = strings.TrimSpace(s.Subject)
	s.Message = strings.TrimSpace(s.Message)
	s.Website = strings.TrimSpace(s.Website)
	return s
}

// FieldError describes why a single form field is invalid.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors lists all invalid fields of a submission.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	fields := make([]string, len(v))
	for i, fe := range v {
		fields[i] = fe.Field
	}
	return fmt.Sprintf("invalid fields: %s", strings.Join(fields, ", "))
}

// Validate checks a trimmed submission and returns ValidationErrors if any field is invalid.
// The phone number is optional.
func (s Submission) Validate() error {
	var errs ValidationErrors
	if s.Name == "" {
		errs = append(errs, FieldError{"name", "Please enter your name"})
	}
	if s.Email == "" || !emailPattern.MatchString(s.Email) {
		errs = append(errs, FieldError{"email", "Enter a valid email"})
	}
	if s.Phone != "" && !phonePattern.MatchString(s.Phone) {
		errs = append(errs, FieldError{"phone", "Enter a valid phone (optional)"})
	}
	if s.Subject == "" {
		errs = append(errs, FieldError{"subject", "Please add a subject"})
	}
	if len([]rune(s.Message)) < minMessageLength {
		errs = append(errs, FieldError{"message", "Message must be at least 10 characters"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
