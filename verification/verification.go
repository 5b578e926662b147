/*
# IAS Attestation Report Verification

This package verifies attestation verification reports returned by Intel's Attestation Service.

Verification of a report follows these steps:

  - Load the trust anchor compiled into the binary.

    No other root is ever consulted. Certificates sent along by IAS besides the
    signing certificate are ignored.

  - Check the signature algorithms of the signing certificate and the trust anchor.

  - Verify the signing certificate chains to the trust anchor, using the TLS server
    certificate profile and the verifier's clock as reference time.

  - Verify the report signature (RSA PKCS#1 v1.5, SHA-256) over the exact report bytes
    using the signing certificate's public key.

[IASVerifier.VerifyReport] additionally decodes the report and applies a [ReportPolicy]:

	┌───────────────┐  Verify   ┌──────────────┐  json   ┌──────────────────────┐
	│ ParsedReport  ├──────────►│ trusted body ├────────►│ ReportPolicy.Check   │
	│ (ias package) │           └──────────────┘         │ freshness, nonce,    │
	└───────────────┘                                    │ status, quote match  │
	                                                     └──────────────────────┘

Any returned error means the report must be rejected.
*/
package verification

import (
	"crypto/x509"
	"encoding/json"
	"fmt"

	"github.com/edgelesssys/go-ias/verification/crypto"
	"github.com/edgelesssys/go-ias/verification/errdefs"
	"github.com/edgelesssys/go-ias/verification/types"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// IASVerifier is used to verify IAS attestation verification reports.
// It is safe for concurrent use.
type IASVerifier struct {
	clock     clock.PassiveClock
	anchor    *x509.Certificate
	anchorErr error
	log       *zap.Logger
}

// Option configures an IASVerifier.
type Option func(*IASVerifier)

// WithClock sets the clock used as reference time for certificate validity and report freshness.
func WithClock(c clock.PassiveClock) Option {
	return func(v *IASVerifier) { v.clock = c }
}

// WithTrustAnchor replaces the embedded trust anchor with the given DER encoded root certificate.
func WithTrustAnchor(der []byte) Option {
	return func(v *IASVerifier) {
		v.anchor, v.anchorErr = x509.ParseCertificate(der)
	}
}

// WithLogger sets the logger of the verifier.
func WithLogger(logger *zap.Logger) Option {
	return func(v *IASVerifier) { v.log = logger }
}

// New creates a new IASVerifier.
func New(opts ...Option) *IASVerifier {
	v := &IASVerifier{
		clock: clock.RealClock{},
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.Named("verifier")
	return v
}

// Verify checks the signing certificate of parsed against the trust anchor
// and the report signature against the signing certificate.
// Chain failures are reported as [errdefs.ErrCertificate], signature failures as [errdefs.ErrSignature].
func (v *IASVerifier) Verify(parsed types.ParsedReport) error {
	signingCert := parsed.SigningCertificate()
	if signingCert == nil {
		return errdefs.New(errdefs.ErrCertificate, "parsing signing certificate", "certificate chain is empty")
	}

	if err := v.VerifySigningCert(signingCert); err != nil {
		return err
	}

	if err := crypto.VerifyRSASignature(signingCert.PublicKey, parsed.Body, parsed.Signature); err != nil {
		return errdefs.Wrap(errdefs.ErrSignature, "verifying report signature", err)
	}

	v.log.Debug("Verified report signature", zap.String("signer", signingCert.Subject.CommonName))
	return nil
}

// VerifySigningCert verifies signingCert was issued by the trust anchor and is valid at the verifier's current time.
func (v *IASVerifier) VerifySigningCert(signingCert *x509.Certificate) error {
	anchor, err := v.trustAnchor()
	if err != nil {
		return errdefs.Wrap(errdefs.ErrCertificate, "loading trust anchor", err)
	}

	if err := crypto.CheckSignatureAlgorithm(anchor, anchor); err != nil {
		return errdefs.Wrap(errdefs.ErrCertificate, "checking trust anchor", err)
	}
	if err := crypto.CheckSignatureAlgorithm(signingCert, anchor); err != nil {
		return errdefs.Wrap(errdefs.ErrCertificate, "checking signing certificate", err)
	}

	if signingCert.IsCA {
		return errdefs.New(errdefs.ErrCertificate, "checking signing certificate",
			"certificate %q is a CA certificate", signingCert.Subject.CommonName)
	}

	roots := x509.NewCertPool()
	roots.AddCert(anchor)
	// There is no dedicated profile for report signing, the TLS server profile is the closest match.
	if _, err := signingCert.Verify(x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: v.clock.Now(),
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}); err != nil {
		return errdefs.Wrap(errdefs.ErrCertificate, "verifying signing certificate", err)
	}
	return nil
}

// VerifyReport runs [IASVerifier.Verify] and checks the decoded report against policy.
// The report is only returned if both succeed.
func (v *IASVerifier) VerifyReport(parsed types.ParsedReport, policy ReportPolicy) (types.AttestationVerificationReport, error) {
	if err := v.Verify(parsed); err != nil {
		return types.AttestationVerificationReport{}, err
	}

	var report types.AttestationVerificationReport
	if err := json.Unmarshal(parsed.Body, &report); err != nil {
		return types.AttestationVerificationReport{}, errdefs.Wrap(errdefs.ErrDecode, "decoding report", err)
	}

	if err := policy.Check(report, v.clock.Now()); err != nil {
		v.log.Warn("Rejected report",
			zap.String("id", report.ID), zap.String("status", string(report.ISVEnclaveQuoteStatus)), zap.Error(err))
		return types.AttestationVerificationReport{}, fmt.Errorf("checking report %s: %w", report.ID, err)
	}

	v.log.Info("Accepted report",
		zap.String("id", report.ID),
		zap.String("status", string(report.ISVEnclaveQuoteStatus)),
		zap.Time("timestamp", report.Timestamp),
	)
	return report, nil
}

func (v *IASVerifier) trustAnchor() (*x509.Certificate, error) {
	if v.anchor != nil || v.anchorErr != nil {
		return v.anchor, v.anchorErr
	}
	return embeddedTrustAnchor()
}
