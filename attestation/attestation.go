/*
Package attestation runs the complete EPID remote attestation of an enclave.

One attempt consists of the following steps, each failure ends the attempt:

	quote.Provider        enclave          ias.Client              verification.IASVerifier
	──────────────        ───────          ──────────              ────────────────────────
	InitQuote ──► TargetInfo ──► LocalReport
	GetQuote(LocalReport, SPID, SigRL) ──► quote ──► Attest ──► ParsedReport ──► VerifyReport

Attempts are never retried unless a retry policy is configured with [WithRetry].
A retry always starts over with a fresh quote, and only happens for
transport failures and temporary unavailability of IAS.
*/
package attestation

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgelesssys/go-ias/quote"
	"github.com/edgelesssys/go-ias/verification"
	"github.com/edgelesssys/go-ias/verification/errdefs"
	"github.com/edgelesssys/go-ias/verification/ias"
	"github.com/edgelesssys/go-ias/verification/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocalReporter creates an enclave report addressed to the quoting enclave described by targetInfo.
type LocalReporter func(targetInfo quote.TargetInfo) (quote.LocalReport, error)

// Evidence holds the artifacts of a successful attestation.
type Evidence struct {
	// Quote is the quote that was sent to IAS.
	Quote []byte
	// Response is the signed response of IAS.
	Response types.ParsedReport
	// Report is the verified content of Response.
	Report types.AttestationVerificationReport
}

type reportClient interface {
	AttestParsed(ctx context.Context, quote []byte) (types.ParsedReport, error)
	AttestWithNonce(ctx context.Context, quote []byte, nonce string) (types.ParsedReport, error)
	GetSigRL(ctx context.Context, gid [4]byte) ([]byte, error)
}

type reportVerifier interface {
	VerifyReport(parsed types.ParsedReport, policy verification.ReportPolicy) (types.AttestationVerificationReport, error)
}

// Attester attests enclaves against IAS.
type Attester struct {
	provider quote.Provider
	client   reportClient
	verifier reportVerifier

	policy   verification.ReportPolicy
	backOff  backoff.BackOff
	nonces   bool
	sigRL    bool
	newNonce func() string
	log      *zap.Logger
}

// Option configures an Attester.
type Option func(*Attester)

// WithRetry retries failed attempts according to b.
// Only attempts failing with a retryable error are repeated.
func WithRetry(b backoff.BackOff) Option {
	return func(a *Attester) { a.backOff = b }
}

// WithNonces sends a new random nonce with every attempt and requires IAS to echo it.
func WithNonces() Option {
	return func(a *Attester) { a.nonces = true }
}

// WithSigRL fetches the signature revocation list of the platform's group before requesting a quote.
func WithSigRL() Option {
	return func(a *Attester) { a.sigRL = true }
}

// WithPolicy sets the policy reports are checked against.
// Nonce and Quote of the policy are set by the Attester.
func WithPolicy(policy verification.ReportPolicy) Option {
	return func(a *Attester) { a.policy = policy }
}

// WithLogger sets the logger of the attester.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Attester) { a.log = logger }
}

// New returns an Attester obtaining quotes from provider, sending them to IAS with client,
// and verifying the responses with verifier.
func New(provider quote.Provider, client reportClient, verifier reportVerifier, opts ...Option) *Attester {
	a := &Attester{
		provider: provider,
		client:   client,
		verifier: verifier,
		newNonce: newNonce,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.Named("attestation")
	return a
}

// Attest obtains a quote for a report created by reporter, has it signed by IAS, and verifies the result.
func (a *Attester) Attest(ctx context.Context, reporter LocalReporter, spid quote.SPID) (Evidence, error) {
	if a.backOff == nil {
		return a.attempt(ctx, reporter, spid)
	}

	var evidence Evidence
	b := &retryAfterBackOff{BackOff: a.backOff}
	op := func() error {
		var err error
		evidence, err = a.attempt(ctx, reporter, spid)
		if err == nil {
			return nil
		}
		if !errdefs.Retryable(err) {
			return backoff.Permanent(err)
		}
		var statusErr *ias.StatusError
		if errors.As(err, &statusErr) {
			b.hint = statusErr.RetryAfter
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		a.log.Warn("Attestation attempt failed, retrying", zap.Error(err), zap.Duration("next_attempt_in", next))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return Evidence{}, err
	}
	return evidence, nil
}

func (a *Attester) attempt(ctx context.Context, reporter LocalReporter, spid quote.SPID) (Evidence, error) {
	targetInfo, gid, err := a.provider.InitQuote(ctx)
	if err != nil {
		return Evidence{}, fmt.Errorf("initializing quote: %w", err)
	}

	localReport, err := reporter(targetInfo)
	if err != nil {
		return Evidence{}, errdefs.Wrap(errdefs.ErrQuote, "creating local report", err)
	}

	var sigRL []byte
	if a.sigRL {
		sigRL, err = a.client.GetSigRL(ctx, gid)
		if err != nil {
			return Evidence{}, fmt.Errorf("retrieving SigRL: %w", err)
		}
	}

	rawQuote, err := a.provider.GetQuote(ctx, localReport, spid, sigRL)
	if err != nil {
		return Evidence{}, fmt.Errorf("getting quote: %w", err)
	}

	policy := a.policy
	policy.Quote = rawQuote
	var parsed types.ParsedReport
	if a.nonces {
		policy.Nonce = a.newNonce()
		parsed, err = a.client.AttestWithNonce(ctx, rawQuote, policy.Nonce)
	} else {
		parsed, err = a.client.AttestParsed(ctx, rawQuote)
	}
	if err != nil {
		return Evidence{}, err
	}

	report, err := a.verifier.VerifyReport(parsed, policy)
	if err != nil {
		return Evidence{}, fmt.Errorf("verifying report: %w", err)
	}

	a.log.Info("Attestation succeeded",
		zap.String("report_id", report.ID),
		zap.String("status", string(report.ISVEnclaveQuoteStatus)),
		zap.String("gid", hex.EncodeToString(gid[:])),
	)
	return Evidence{
		Quote:    rawQuote,
		Response: parsed,
		Report:   report,
	}, nil
}

// newNonce returns 32 random hex characters, the longest nonce IAS accepts.
func newNonce() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// retryAfterBackOff waits at least as long as IAS asked for before the next attempt.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next != backoff.Stop && b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}
