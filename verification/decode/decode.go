// Package decode unwraps the encodings used by the attestation authority in its response headers.
package decode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/edgelesssys/go-ias/verification/errdefs"
)

const (
	// pemDelimiter starts and ends every PEM boundary line.
	pemDelimiter = "-----"
	// certificateHeader is the PEM header of a certificate block.
	certificateHeader = "-----BEGIN CERTIFICATE-----"
	// certificateFooter is the PEM footer of a certificate block.
	certificateFooter = "-----END CERTIFICATE-----"
	// escapedNewline is how the authority escapes line breaks in the certificate header.
	escapedNewline = "%0A"
)

// StripEscapedNewlines removes every literal %0A sequence from s.
func StripEscapedNewlines(s string) string {
	return strings.ReplaceAll(s, escapedNewline, "")
}

// PercentDecode replaces every '%' followed by two hex digits with the byte of that value.
// Input without '%' is returned unchanged. A '+' is kept as is.
func PercentDecode(s string) ([]byte, error) {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrDecode, "percent-decoding", err)
	}
	return []byte(decoded), nil
}

// Base64 decodes standard, padded base64.
func Base64(data []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(out, data)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrDecode, "base64-decoding", err)
	}
	return out[:n], nil
}

// PEMBlocks returns the DER payload of every PEM block of the given type in data, in order.
//
// Unlike [encoding/pem], it does not require line breaks around the boundary lines,
// since the authority's escaped newlines have already been stripped at this point.
// Blocks are located by their BEGIN and END boundaries, so additional leading or
// trailing material does not shift which certificate is selected.
func PEMBlocks(data []byte, blockType string) ([][]byte, error) {
	begin := []byte(pemDelimiter + "BEGIN " + blockType + pemDelimiter)
	end := []byte(pemDelimiter + "END " + blockType + pemDelimiter)

	var blocks [][]byte
	rest := data
	for {
		start := bytes.Index(rest, begin)
		if start < 0 {
			break
		}
		rest = rest[start+len(begin):]

		stop := bytes.Index(rest, end)
		if stop < 0 {
			return nil, errdefs.New(errdefs.ErrDecode, "extracting PEM blocks", "block %d has no END boundary", len(blocks))
		}
		payload := stripWhitespace(rest[:stop])
		if bytes.Contains(payload, []byte(pemDelimiter)) {
			return nil, errdefs.New(errdefs.ErrDecode, "extracting PEM blocks", "block %d contains a nested boundary", len(blocks))
		}

		der, err := Base64(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding PEM block %d: %w", len(blocks), err)
		}
		blocks = append(blocks, der)
		rest = rest[stop+len(end):]
	}

	if len(blocks) == 0 {
		return nil, errdefs.New(errdefs.ErrDecode, "extracting PEM blocks", "no %s block found", blockType)
	}
	return blocks, nil
}

// TrustAnchorDER turns a single PEM certificate into DER by dropping all CR and LF bytes
// and cutting the fixed length BEGIN and END boundaries.
func TrustAnchorDER(pemData []byte) ([]byte, error) {
	stripped := bytes.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, pemData)

	if len(stripped) < len(certificateHeader)+len(certificateFooter) {
		return nil, errdefs.Wrap(errdefs.ErrDecode, "decoding trust anchor", errors.New("PEM data is too short"))
	}
	if !bytes.HasPrefix(stripped, []byte(certificateHeader)) || !bytes.HasSuffix(stripped, []byte(certificateFooter)) {
		return nil, errdefs.Wrap(errdefs.ErrDecode, "decoding trust anchor", errors.New("PEM data is not a single certificate"))
	}

	core := stripped[len(certificateHeader) : len(stripped)-len(certificateFooter)]
	der, err := Base64(core)
	if err != nil {
		return nil, fmt.Errorf("decoding trust anchor: %w", err)
	}
	return der, nil
}

func stripWhitespace(data []byte) []byte {
	return bytes.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, data)
}
