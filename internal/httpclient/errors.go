package httpclient

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Kind classifies client errors into the taxonomy shared across the SDK.
type Kind string

const (
	KindMissingCredentials Kind = "missing_credentials"
	KindNetwork            Kind = "network"
	KindAuthentication     Kind = "authentication"
	KindRateLimitExhausted Kind = "rate_limit_exhausted"
	KindAPI                Kind = "api"
	KindTimeout            Kind = "timeout"
)

// ErrMissingAPIKey is returned when a request is attempted without credentials.
var ErrMissingAPIKey = errors.New("missing API key")

// Error is the error type surfaced by the HTTP client. URL always carries a
// sanitised URL (query string and fragment stripped); the full URL never
// appears in Message.
type Error struct {
	Kind    Kind
	Status  int
	URL     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s [%s]", e.Kind, e.Status, e.Message, e.URL)
	}
	return fmt.Sprintf("%s: %s [%s]", e.Kind, e.Message, e.URL)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a client Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// SanitizeURL strips the query string and fragment from a URL. Every error
// constructor in this package routes URLs through here so credentials and
// filters embedded in query params never leak into error output.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		// Fall back to manual truncation on unparseable input.
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
