package types

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgelesssys/go-ias/verification/errdefs"
)

const (
	// ReportTimestampLayout is the layout of the timestamp field of an attestation verification report.
	// The authority sends UTC timestamps without a zone designator.
	ReportTimestampLayout = "2006-01-02T15:04:05.999999"

	// minSignatureSize is the signature size of an RSA-2048 key.
	minSignatureSize = 2048 / 8
	// maxSignatureSize is the signature size of an RSA-8192 key.
	maxSignatureSize = 8192 / 8
)

// QuoteStatus is the authority's verdict on a submitted quote.
type QuoteStatus string

// Quote statuses returned by the attestation authority.
const (
	QuoteOK                                QuoteStatus = "OK"
	QuoteSignatureInvalid                  QuoteStatus = "SIGNATURE_INVALID"
	QuoteGroupRevoked                      QuoteStatus = "GROUP_REVOKED"
	QuoteSignatureRevoked                  QuoteStatus = "SIGNATURE_REVOKED"
	QuoteKeyRevoked                        QuoteStatus = "KEY_REVOKED"
	QuoteSigRLVersionMismatch              QuoteStatus = "SIGRL_VERSION_MISMATCH"
	QuoteGroupOutOfDate                    QuoteStatus = "GROUP_OUT_OF_DATE"
	QuoteConfigurationNeeded               QuoteStatus = "CONFIGURATION_NEEDED"
	QuoteSWHardeningNeeded                 QuoteStatus = "SW_HARDENING_NEEDED"
	QuoteConfigurationAndSWHardeningNeeded QuoteStatus = "CONFIGURATION_AND_SW_HARDENING_NEEDED"
)

// Report is the raw body of the authority's response.
// It is the exact byte sequence the report signature was computed over and must never be re-encoded.
type Report []byte

// ReportSignature is the decoded signature over a Report.
type ReportSignature []byte

// NewReportSignature checks that raw has the length of an RSA-2048 to RSA-8192 signature.
func NewReportSignature(raw []byte) (ReportSignature, error) {
	if len(raw) == 0 {
		return nil, errdefs.New(errdefs.ErrDecode, "checking report signature", "signature is empty")
	}
	if len(raw) < minSignatureSize || len(raw) > maxSignatureSize {
		return nil, errdefs.New(errdefs.ErrDecode, "checking report signature",
			"signature length %d is outside of the accepted range [%d, %d]", len(raw), minSignatureSize, maxSignatureSize)
	}
	return ReportSignature(raw), nil
}

// ParsedReport holds the artifacts of one attestation response.
type ParsedReport struct {
	// Body is the signed report.
	Body Report
	// Signature is the signature over Body.
	Signature ReportSignature
	// CertificateChain holds the certificates sent by the authority, in order.
	// The first certificate is the report signing certificate.
	CertificateChain []*x509.Certificate
}

// SigningCertificate returns the leaf of the certificate chain, or nil if the chain is empty.
func (p ParsedReport) SigningCertificate() *x509.Certificate {
	if len(p.CertificateChain) == 0 {
		return nil
	}
	return p.CertificateChain[0]
}

// AttestationVerificationReport is the content of a Report.
type AttestationVerificationReport struct {
	ID                    string
	Timestamp             time.Time
	Version               uint32
	ISVEnclaveQuoteStatus QuoteStatus
	ISVEnclaveQuoteBody   []byte
	RevocationReason      *uint32
	PSEManifestStatus     string
	PSEManifestHash       string
	PlatformInfoBlob      string
	Nonce                 string
	EPIDPseudonym         []byte
	AdvisoryURL           string
	AdvisoryIDs           []string
}

// UnmarshalJSON parses a JSON representation of the report into an AttestationVerificationReport.
func (r *AttestationVerificationReport) UnmarshalJSON(data []byte) error {
	var reportJSON attestationVerificationReportJSON
	if err := json.Unmarshal(data, &reportJSON); err != nil {
		return fmt.Errorf("unmarshaling report JSON: %w", err)
	}

	var err error
	r.ID = reportJSON.ID
	r.Version = reportJSON.Version
	r.Timestamp, err = time.ParseInLocation(ReportTimestampLayout, reportJSON.Timestamp, time.UTC)
	if err != nil {
		return fmt.Errorf("parsing report timestamp: %w", err)
	}

	r.ISVEnclaveQuoteStatus = QuoteStatus(reportJSON.ISVEnclaveQuoteStatus)
	r.ISVEnclaveQuoteBody, err = base64.StdEncoding.DecodeString(reportJSON.ISVEnclaveQuoteBody)
	if err != nil {
		return fmt.Errorf("decoding isvEnclaveQuoteBody: %w", err)
	}
	if len(r.ISVEnclaveQuoteBody) != QuoteBodySize {
		return fmt.Errorf("isvEnclaveQuoteBody has %d bytes, expected %d", len(r.ISVEnclaveQuoteBody), QuoteBodySize)
	}

	if reportJSON.EPIDPseudonym != "" {
		r.EPIDPseudonym, err = base64.StdEncoding.DecodeString(reportJSON.EPIDPseudonym)
		if err != nil {
			return fmt.Errorf("decoding epidPseudonym: %w", err)
		}
	}

	r.RevocationReason = reportJSON.RevocationReason
	r.PSEManifestStatus = reportJSON.PSEManifestStatus
	r.PSEManifestHash = reportJSON.PSEManifestHash
	r.PlatformInfoBlob = reportJSON.PlatformInfoBlob
	r.Nonce = reportJSON.Nonce
	r.AdvisoryURL = reportJSON.AdvisoryURL
	r.AdvisoryIDs = reportJSON.AdvisoryIDs

	return nil
}

// QuoteBody parses the echoed quote body.
func (r *AttestationVerificationReport) QuoteBody() (QuoteHeader, EnclaveReport) {
	var raw [QuoteBodySize]byte
	copy(raw[:], r.ISVEnclaveQuoteBody)
	return parseQuoteHeader(raw[:QuoteHeaderSize]), ParseEnclaveReport([EnclaveReportSize]byte(raw[QuoteHeaderSize:]))
}

// attestationVerificationReportJSON is the JSON representation of the report using basic strings and ints.
type attestationVerificationReportJSON struct {
	ID                    string   `json:"id"`
	Timestamp             string   `json:"timestamp"`
	Version               uint32   `json:"version"`
	ISVEnclaveQuoteStatus string   `json:"isvEnclaveQuoteStatus"`
	ISVEnclaveQuoteBody   string   `json:"isvEnclaveQuoteBody"`
	RevocationReason      *uint32  `json:"revocationReason,omitempty"`
	PSEManifestStatus     string   `json:"pseManifestStatus,omitempty"`
	PSEManifestHash       string   `json:"pseManifestHash,omitempty"`
	PlatformInfoBlob      string   `json:"platformInfoBlob,omitempty"`
	Nonce                 string   `json:"nonce,omitempty"`
	EPIDPseudonym         string   `json:"epidPseudonym,omitempty"`
	AdvisoryURL           string   `json:"advisoryURL,omitempty"`
	AdvisoryIDs           []string `json:"advisoryIDs,omitempty"`
}
