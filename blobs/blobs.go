/*
Package blobs contains static test fixtures for the attestation pipeline.

The fixtures form a small PKI mirroring the attestation authority's:

	┌──────────────────────────────────────┐
	│ Test Attestation Report Signing CA   │  IASRootCAPEM (RSA-3072, self-signed)
	└──────────────────┬───────────────────┘
	                   │ signs
	                   ▼
	┌──────────────────────────────────────┐
	│ Test Attestation Report Signing      │  SigningCertPEM (RSA-2048)
	└──────────────────┬───────────────────┘
	                   │ signs (RSA PKCS#1 v1.5, SHA-256)
	                   ▼
	             ReportJSON / ReportSignature

UntrustedRootCAPEM is an unrelated root that signed the same leaf key,
its chain is served in SigningCertHeaderUntrusted.
*/
package blobs

import (
	_ "embed"
	"encoding/pem"
	"strings"
	"time"
)

var (
	// IASRootCAPEM is the root certificate the test fixtures are chained to.
	//go:embed ias_root_ca.pem
	IASRootCAPEM []byte

	// UntrustedRootCAPEM is a root certificate not related to IASRootCAPEM.
	//go:embed untrusted_root_ca.pem
	UntrustedRootCAPEM []byte

	// SigningCertPEM is the report signing certificate issued by IASRootCAPEM.
	//go:embed signing_cert.pem
	SigningCertPEM []byte

	// ReportJSON is a report body signed by SigningCertPEM.
	//go:embed report.json
	ReportJSON []byte

	//go:embed report.sig
	reportSignature string

	//go:embed signing_cert_header
	signingCertHeader string

	//go:embed signing_cert_header_untrusted
	signingCertHeaderUntrusted string

	//go:embed quote
	quote []byte
)

const (
	// RootCADERLength is the length of IASRootCAPEM in DER encoding.
	RootCADERLength = 1209
	// SigningCertDERLength is the length of SigningCertPEM in DER encoding.
	SigningCertDERLength = 1075
	// ReportNonce is the nonce carried in ReportJSON.
	ReportNonce = "a52f6bb0f7f542dba4aa13f9b74d5b9c"
	// ReportID is the report ID carried in ReportJSON.
	ReportID = "165171271757108173876306223827987629978"
)

var (
	// ReportIssueDate is the timestamp of ReportJSON.
	ReportIssueDate = time.Date(2023, time.June, 1, 12, 0, 0, 123456000, time.UTC)
	// SigningCertNotAfter is the end of the validity period of SigningCertPEM.
	SigningCertNotAfter = time.Date(2026, time.November, 20, 9, 34, 17, 0, time.UTC)
	// SigningCertNotBefore is the start of the validity period of SigningCertPEM.
	SigningCertNotBefore = time.Date(2016, time.November, 22, 9, 34, 17, 0, time.UTC)
)

// ReportSignature returns the base64 encoded signature over ReportJSON,
// as sent in the X-IASReport-Signature header.
func ReportSignature() string {
	return strings.TrimSpace(reportSignature)
}

// SigningCertHeader returns the percent-encoded chain (signing cert followed by root)
// as sent in the X-IASReport-Signing-Certificate header.
func SigningCertHeader() string {
	return strings.TrimSpace(signingCertHeader)
}

// SigningCertHeaderUntrusted returns a percent-encoded chain rooted at UntrustedRootCAPEM.
func SigningCertHeaderUntrusted() string {
	return strings.TrimSpace(signingCertHeaderUntrusted)
}

// Quote returns a copy of an EPID quote whose body is referenced by ReportJSON.
func Quote() []byte {
	return append([]byte(nil), quote...)
}

// IASRootCADER returns the DER encoding of IASRootCAPEM.
func IASRootCADER() []byte {
	return mustDER(IASRootCAPEM)
}

// UntrustedRootCADER returns the DER encoding of UntrustedRootCAPEM.
func UntrustedRootCADER() []byte {
	return mustDER(UntrustedRootCAPEM)
}

func mustDER(data []byte) []byte {
	block, _ := pem.Decode(data)
	if block == nil {
		panic("invalid PEM fixture")
	}
	return block.Bytes
}
