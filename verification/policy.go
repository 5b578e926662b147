package verification

import (
	"bytes"
	"slices"
	"time"

	"github.com/edgelesssys/go-ias/verification/errdefs"
	"github.com/edgelesssys/go-ias/verification/types"
)

const (
	// DefaultMaxReportAge is the maximum age of a report if the policy sets none.
	DefaultMaxReportAge = 24 * time.Hour
	// DefaultClockSkew is how far a report may be issued in the future if the policy sets none.
	DefaultClockSkew = 5 * time.Minute

	// reportVersion is the report version of the v4 API.
	reportVersion = 4
)

// ReportPolicy defines which verified reports are accepted.
// The zero value accepts reports with status OK that are at most a day old.
type ReportPolicy struct {
	// MaxAge is the maximum time since the report was issued.
	MaxAge time.Duration
	// ClockSkew is the tolerance for reports issued in the future.
	ClockSkew time.Duration
	// Nonce must match the report's nonce if set.
	Nonce string
	// AllowedStatuses lists the accepted quote statuses. Only OK is accepted if empty.
	AllowedStatuses []types.QuoteStatus
	// Quote binds the report to the submitted quote if set.
	// The report's quote body must equal the first 432 bytes of Quote.
	Quote []byte
}

// Check applies the policy to a report whose signature has already been verified.
func (p ReportPolicy) Check(report types.AttestationVerificationReport, now time.Time) error {
	if report.Version != reportVersion {
		return errdefs.New(errdefs.ErrProtocol, "checking report version", "expected version %d, got %d", reportVersion, report.Version)
	}

	maxAge := p.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxReportAge
	}
	clockSkew := p.ClockSkew
	if clockSkew <= 0 {
		clockSkew = DefaultClockSkew
	}
	age := now.Sub(report.Timestamp)
	if age > maxAge {
		return errdefs.New(errdefs.ErrStale, "checking report timestamp",
			"report was issued at %s, %s ago, max age is %s", report.Timestamp.Format(time.RFC3339), age.Round(time.Second), maxAge)
	}
	if -age > clockSkew {
		return errdefs.New(errdefs.ErrStale, "checking report timestamp",
			"report was issued at %s, %s in the future", report.Timestamp.Format(time.RFC3339), (-age).Round(time.Second))
	}

	if p.Nonce != "" && report.Nonce != p.Nonce {
		return errdefs.New(errdefs.ErrProtocol, "checking nonce", "expected nonce %q, got %q", p.Nonce, report.Nonce)
	}

	allowed := p.AllowedStatuses
	if len(allowed) == 0 {
		allowed = []types.QuoteStatus{types.QuoteOK}
	}
	if !slices.Contains(allowed, report.ISVEnclaveQuoteStatus) {
		return errdefs.New(errdefs.ErrQuoteStatus, "checking quote status",
			"status %s is not accepted (advisories: %v)", report.ISVEnclaveQuoteStatus, report.AdvisoryIDs)
	}

	if p.Quote != nil {
		if len(p.Quote) < types.QuoteBodySize {
			return errdefs.New(errdefs.ErrInvalidArgument, "checking quote binding",
				"quote has %d bytes, expected at least %d", len(p.Quote), types.QuoteBodySize)
		}
		if !bytes.Equal(report.ISVEnclaveQuoteBody, p.Quote[:types.QuoteBodySize]) {
			return errdefs.Wrap(errdefs.ErrQuoteBinding, "checking quote binding", nil)
		}
	}
	return nil
}
