package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// ErrorKind classifies failures along the resilience contract.
type ErrorKind int

const (
	// KindConfiguration is a missing or invalid provider/model configuration.
	KindConfiguration ErrorKind = iota + 1
	// KindCredentialMissing means no usable API key or token was found.
	KindCredentialMissing
	// KindTransientBackend covers network errors and 429/5xx responses.
	KindTransientBackend
	// KindTerminalBackend covers non-retryable vendor failures.
	KindTerminalBackend
	// KindCache is a failure reading or writing persisted state.
	KindCache
)

// Sentinels matched by [Error.Is], so callers can write errors.Is(err, ai.ErrTransientBackend).
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrCredentialMissing = errors.New("credential missing")
	ErrTransientBackend  = errors.New("transient backend error")
	ErrTerminalBackend   = errors.New("terminal backend error")
	ErrCache             = errors.New("cache error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindCredentialMissing:
		return ErrCredentialMissing
	case KindTransientBackend:
		return ErrTransientBackend
	case KindTerminalBackend:
		return ErrTerminalBackend
	case KindCache:
		return ErrCache
	default:
		return nil
	}
}

// String returns the taxonomy name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindCredentialMissing:
		return "CredentialMissing"
	case KindTransientBackend:
		return "TransientBackendError"
	case KindTerminalBackend:
		return "TerminalBackendError"
	case KindCache:
		return "CacheError"
	default:
		return "UnknownError"
	}
}

// Error is the typed failure surfaced to callers. Provider is the display
// name and Model the failing model id, both optional.
type Error struct {
	Kind     ErrorKind
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	var prefix string
	switch {
	case e.Provider != "" && e.Model != "":
		prefix = fmt.Sprintf("%s (%s): ", e.Provider, e.Model)
	case e.Provider != "":
		prefix = e.Provider + ": "
	}
	if e.Err == nil {
		return prefix + e.Kind.String()
	}
	return fmt.Sprintf("%s%s: %v", prefix, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of this error's kind.
func (e *Error) Is(target error) bool {
	sentinel := e.Kind.sentinel()
	return sentinel != nil && target == sentinel
}

// NewError builds an *Error, preserving an inner *Error's kind when err
// already carries one so wrapping never downgrades a classification.
func NewError(kind ErrorKind, provider, model string, err error) *Error {
	var inner *Error
	if errors.As(err, &inner) {
		kind = inner.Kind
		if provider == "" {
			provider = inner.Provider
		}
		if model == "" {
			model = inner.Model
		}
		err = inner.Err
	}
	return &Error{Kind: kind, Provider: provider, Model: model, Err: err}
}

// HTTPError is a non-2xx vendor response. Body holds the (size-capped)
// response text; HTML bodies are converted to Markdown.
type HTTPError struct {
	StatusCode int
	Body       string
	Header     http.Header
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("non-2xx status %d: %s", e.StatusCode, e.Body)
}

// NewHTTPError builds an HTTPError from a raw vendor response body. Gateways
// in front of many vendors answer 502/504 with HTML pages; those are reduced
// to Markdown so the message stays readable when shown to a user.
func NewHTTPError(statusCode int, header http.Header, body []byte) *HTTPError {
	text := strings.TrimSpace(string(body))
	if looksLikeHTML(header, text) {
		if markdown, err := htmltomarkdown.ConvertString(text); err == nil {
			text = strings.TrimSpace(markdown)
		}
	}
	return &HTTPError{StatusCode: statusCode, Body: text, Header: header}
}

func looksLikeHTML(header http.Header, text string) bool {
	if header != nil && strings.Contains(strings.ToLower(header.Get("Content-Type")), "text/html") {
		return true
	}
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}

// transientStatus lists the HTTP statuses retried with backoff.
var transientStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	529:                            true, // Anthropic "overloaded"
}

// Classify maps an arbitrary error onto the taxonomy. Context cancellation is
// classified terminal: the caller asked to stop.
func Classify(err error) ErrorKind {
	if err == nil {
		return 0
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindTerminalBackend
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if transientStatus[httpErr.StatusCode] {
			return KindTransientBackend
		}
		return KindTerminalBackend
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransientBackend
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransientBackend
	}

	return KindTerminalBackend
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return Classify(err) == KindTransientBackend
}
