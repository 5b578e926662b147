package verification

import (
	"crypto/x509"
	_ "embed"
	"fmt"
	"sync"

	"github.com/edgelesssys/go-ias/verification/decode"
)

// trustAnchorPEM is the root certificate every report signing certificate must chain to.
// It is compiled into the binary and never fetched or refreshed at runtime.
//
//go:embed AttestationReportSigningCACert.pem
var trustAnchorPEM []byte

// embeddedTrustAnchor decodes trustAnchorPEM on first use.
// The result is immutable and shared by all verifiers.
var embeddedTrustAnchor = sync.OnceValues(func() (*x509.Certificate, error) {
	der, err := decode.TrustAnchorDER(trustAnchorPEM)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing embedded trust anchor: %w", err)
	}
	return cert, nil
})
