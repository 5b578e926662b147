/*
Package quote obtains EPID quotes from the platform's quoting enclave.

Quotes are produced in two steps. The enclave first needs the quoting enclave's
target info to create a local report addressed to it. That report is then
exchanged for a quote, signed with the platform's EPID key:

	          InitQuote                        GetQuote(report, SPID, SigRL)
	enclave ◄─────────── TargetInfo, GID       ─────────────────────────────► quote
	   │                                                                       │
	   └── EREPORT(TargetInfo) ──► LocalReport ─────────────────────────────────┘

[AESMClient] implements [Provider] by talking to Intel's AESM daemon.
*/
package quote

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/edgelesssys/go-ias/verification/errdefs"
	"github.com/edgelesssys/go-ias/verification/types"
)

const (
	// MaxQuoteSize is the size of the buffer a quote is written to.
	// Quotes are never longer than this.
	MaxQuoteSize = 2048
	// LocalReportSize is the size of an sgx_report_t.
	LocalReportSize = 432
	// TargetInfoSize is the size of an sgx_target_info_t.
	TargetInfoSize = 512
)

// TargetInfo identifies the quoting enclave a local report must be addressed to.
type TargetInfo [TargetInfoSize]byte

// GroupID is the EPID group of the platform, as stored in quotes (little-endian).
type GroupID [4]byte

// SPID is the service provider ID registered with IAS.
type SPID [16]byte

// LocalReport is an enclave report addressed to the quoting enclave.
type LocalReport [LocalReportSize]byte

// Provider is implemented by quoting runtimes.
type Provider interface {
	// InitQuote returns the quoting enclave's target info and the platform's EPID group.
	// It must succeed before a local report for GetQuote can be created.
	InitQuote(ctx context.Context) (TargetInfo, GroupID, error)
	// GetQuote exchanges a local report for a quote.
	// sigRL is the signature revocation list of the platform's group and may be empty.
	GetQuote(ctx context.Context, report LocalReport, spid SPID, sigRL []byte) ([]byte, error)
}

// ParseSPID parses a hex encoded SPID.
func ParseSPID(s string) (SPID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return SPID{}, errdefs.Wrap(errdefs.ErrInvalidArgument, "parsing SPID", err)
	}
	if len(raw) != len(SPID{}) {
		return SPID{}, errdefs.New(errdefs.ErrInvalidArgument, "parsing SPID", "expected %d bytes, got %d", len(SPID{}), len(raw))
	}
	return SPID(raw), nil
}

// String returns the SPID in upper case hex, as displayed by the IAS portal.
func (s SPID) String() string {
	return fmt.Sprintf("%X", s[:])
}

// rawQuoter is implemented by runtimes writing quotes into a caller supplied buffer.
type rawQuoter interface {
	// getQuote writes a quote to buf and returns the length of the quote.
	getQuote(ctx context.Context, report LocalReport, spid SPID, sigRL []byte, buf []byte) (uint32, Status, error)
}

// collect requests a quote of at most MaxQuoteSize bytes and returns exactly the reported length of it.
// Anything the runtime wrote beyond that length is dropped.
func collect(ctx context.Context, q rawQuoter, report LocalReport, spid SPID, sigRL []byte) ([]byte, error) {
	buf := make([]byte, MaxQuoteSize)
	quoteLen, status, err := q.getQuote(ctx, report, spid, sigRL, buf)
	if err != nil {
		return nil, err
	}
	if status != StatusSuccess {
		return nil, errdefs.Wrap(errdefs.ErrQuote, "getting quote", status)
	}
	if quoteLen == 0 || quoteLen > MaxQuoteSize {
		return nil, errdefs.New(errdefs.ErrQuote, "getting quote", "reported quote length %d is outside of (0, %d]", quoteLen, MaxQuoteSize)
	}
	return bytes.Clone(buf[:quoteLen]), nil
}

// quoteLength returns the length of the EPID quote at the start of buf, derived from its signature length field.
func quoteLength(buf []byte) (uint32, error) {
	signatureOffset := types.QuoteBodySize
	if len(buf) < signatureOffset+4 {
		return 0, fmt.Errorf("quote has %d bytes, too short for a signature length", len(buf))
	}
	signatureLength := binary.LittleEndian.Uint32(buf[signatureOffset : signatureOffset+4])
	if signatureLength > MaxQuoteSize {
		return 0, fmt.Errorf("signature length %d exceeds maximum quote size", signatureLength)
	}
	return uint32(signatureOffset+4) + signatureLength, nil
}
