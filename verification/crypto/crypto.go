// Package crypto implements common crypto operations used to verify attestation reports.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	// MinRSAKeyBits is the smallest accepted RSA modulus.
	MinRSAKeyBits = 2048
	// MaxRSAKeyBits is the largest accepted RSA modulus.
	MaxRSAKeyBits = 8192
)

type keyType int

const (
	keyTypeECDSA keyType = iota
	keyTypeRSA
)

// supportedSignatureAlgorithms are the certificate signature algorithms accepted in the report signing chain,
// mapped to the key type the issuer must hold.
var supportedSignatureAlgorithms = map[x509.SignatureAlgorithm]keyType{
	x509.ECDSAWithSHA256:  keyTypeECDSA,
	x509.ECDSAWithSHA384:  keyTypeECDSA,
	x509.SHA256WithRSAPSS: keyTypeRSA,
	x509.SHA384WithRSAPSS: keyTypeRSA,
	x509.SHA512WithRSAPSS: keyTypeRSA,
	x509.SHA256WithRSA:    keyTypeRSA,
	x509.SHA384WithRSA:    keyTypeRSA,
	x509.SHA512WithRSA:    keyTypeRSA,
}

// CheckSignatureAlgorithm checks that cert was signed with a supported algorithm
// by a key of an accepted type and size held by issuer.
//
// Accepted are ECDSA P-256/P-384 with SHA-256/384, RSA-PSS with SHA-256/384/512,
// and RSA PKCS#1 v1.5 with SHA-256/384/512, both RSA variants with 2048 to 8192 bit keys.
func CheckSignatureAlgorithm(cert, issuer *x509.Certificate) error {
	want, ok := supportedSignatureAlgorithms[cert.SignatureAlgorithm]
	if !ok {
		return fmt.Errorf("certificate %q uses unsupported signature algorithm %s", cert.Subject.CommonName, cert.SignatureAlgorithm)
	}

	switch key := issuer.PublicKey.(type) {
	case *ecdsa.PublicKey:
		if want != keyTypeECDSA {
			return fmt.Errorf("signature algorithm %s does not match ECDSA issuer key", cert.SignatureAlgorithm)
		}
		if key.Curve != elliptic.P256() && key.Curve != elliptic.P384() {
			return fmt.Errorf("unsupported ECDSA curve %s", key.Curve.Params().Name)
		}
	case *rsa.PublicKey:
		if want != keyTypeRSA {
			return fmt.Errorf("signature algorithm %s does not match RSA issuer key", cert.SignatureAlgorithm)
		}
		if err := checkRSAKeySize(key); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported issuer public key type %T", issuer.PublicKey)
	}
	return nil
}

// VerifyRSASignature verifies an RSA PKCS#1 v1.5 signature over the SHA-256 digest of data
// was signed using the given public key.
func VerifyRSASignature(publicKey crypto.PublicKey, data, signature []byte) error {
	signingKey, ok := publicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("signing cert public key is not an RSA key")
	}
	if err := checkRSAKeySize(signingKey); err != nil {
		return err
	}
	if len(signature) != signingKey.Size() {
		return fmt.Errorf("invalid RSA signature: expected %d bytes but got %d bytes", signingKey.Size(), len(signature))
	}

	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(signingKey, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("failed to verify signature using RSA public key: %w", err)
	}
	return nil
}

func checkRSAKeySize(key *rsa.PublicKey) error {
	bits := key.N.BitLen()
	if bits < MinRSAKeyBits || bits > MaxRSAKeyBits {
		return fmt.Errorf("RSA key size %d is outside of the accepted range [%d, %d]", bits, MinRSAKeyBits, MaxRSAKeyBits)
	}
	return nil
}

// ParsePEMCertificateChain parses a certificate chain from a PEM-encoded byte slice.
func ParsePEMCertificateChain(certChainPEM []byte) ([]*x509.Certificate, error) {
	var signingChain []*x509.Certificate
	for block, rest := pem.Decode(certChainPEM); block != nil; block, rest = pem.Decode(rest) {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate from PEM: %w", err)
		}

		signingChain = append(signingChain, cert)
	}
	return signingChain, nil
}

// MustParsePEMCertificate parses a single certificate from a PEM-encoded byte slice.
// If multiple certificates are present, only the first one is returned.
// It panics if the certificate is invalid or the PEM data contains no certificates.
func MustParsePEMCertificate(certPEM []byte) *x509.Certificate {
	certs, err := ParsePEMCertificateChain(certPEM)
	if err != nil {
		panic(err)
	}
	if len(certs) == 0 {
		panic("expected at least one certificate")
	}
	return certs[0]
}
