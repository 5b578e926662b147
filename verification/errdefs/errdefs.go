/*
Package errdefs defines the error kinds returned by the attestation pipeline.

Every component wraps its first failure with [Wrap], so callers can tell
which step failed and decide on a retry using [errors.Is] against the
sentinel kinds below:

	err := verifier.Verify(parsed)
	if errors.Is(err, errdefs.ErrSignature) {
		// report body or signature was tampered with
	}

There is no partial trust: any error returned by the verification
functions means the report must be rejected.
*/
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport indicates a connection, TLS, or timeout failure talking to the attestation authority.
	ErrTransport = errors.New("transport error")
	// ErrProtocol indicates an unexpected response from the attestation authority.
	ErrProtocol = errors.New("protocol error")
	// ErrMissingHeader indicates a required response header was absent.
	ErrMissingHeader = fmt.Errorf("%w: missing header", ErrProtocol)
	// ErrDecode indicates malformed base64, percent-encoding, or PEM data.
	ErrDecode = errors.New("decode error")
	// ErrCertificate indicates the signing certificate chain could not be validated.
	ErrCertificate = errors.New("certificate error")
	// ErrSignature indicates the report signature does not verify.
	ErrSignature = errors.New("signature error")
	// ErrQuote indicates the quoting runtime returned a non-success status.
	ErrQuote = errors.New("quote error")
	// ErrStale indicates the report was issued outside the accepted time window.
	ErrStale = errors.New("stale report")
	// ErrQuoteStatus indicates the authority judged the quote with a status that is not accepted.
	ErrQuoteStatus = errors.New("quote status not accepted")
	// ErrQuoteBinding indicates the report does not refer to the quote that was submitted.
	ErrQuoteBinding = fmt.Errorf("%w: report does not match submitted quote", ErrProtocol)
	// ErrInvalidArgument indicates a caller supplied an unusable input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// kinds lists the top level kinds in the order KindOf checks them.
var kinds = []error{
	ErrTransport, ErrProtocol, ErrDecode, ErrCertificate,
	ErrSignature, ErrQuote, ErrStale, ErrQuoteStatus, ErrInvalidArgument,
}

// Error records the failed step of the pipeline together with the error kind.
type Error struct {
	// Kind is one of the sentinel errors of this package.
	Kind error
	// Step names the operation that failed, e.g. "parsing signature header".
	Step string
	// Err is the underlying cause, may be nil.
	Err error
}

// Wrap returns an *Error of the given kind for step.
func Wrap(kind error, step string, err error) error {
	return &Error{Kind: kind, Step: step, Err: err}
}

// New returns an *Error of the given kind with a formatted message as cause.
func New(kind error, step, format string, args ...any) error {
	return &Error{Kind: kind, Step: step, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the top level kind of err, or nil if err is not part of the taxonomy.
func KindOf(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// retryable is implemented by errors that know whether a new attempt may succeed.
type retryable interface {
	Retryable() bool
}

// Retryable reports whether a fresh attempt of the whole pipeline may succeed.
// Only transport failures and errors that explicitly declare themselves
// retryable (e.g. an overloaded authority) qualify.
func Retryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return errors.Is(err, ErrTransport)
}
