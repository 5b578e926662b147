package types

import (
	"encoding/binary"
	"fmt"
)

/*
   SGX EPID Quote parser
   Based on:
   https://github.com/intel/linux-sgx/blob/d5e10dfbd7381bcd47eb25d2dc1d2da4e9a91e70/common/inc/sgx_quote.h#L76-L106
   https://github.com/intel/linux-sgx/blob/d5e10dfbd7381bcd47eb25d2dc1d2da4e9a91e70/common/inc/sgx_report.h#L93-L111
*/

const (
	// QuoteHeaderSize is the size of an EPID quote header.
	QuoteHeaderSize = 48
	// EnclaveReportSize is the size of an enclave report body.
	EnclaveReportSize = 384
	// QuoteBodySize is the size of the signed part of a quote (header + report body).
	// The attestation authority echoes exactly these bytes in isvEnclaveQuoteBody.
	QuoteBodySize = QuoteHeaderSize + EnclaveReportSize
	// quoteSignatureOffset is the offset of the signature length field.
	quoteSignatureOffset = QuoteBodySize
	// quoteMinSize is the size of a quote with an empty signature.
	quoteMinSize = quoteSignatureOffset + 4
)

const (
	// SignTypeUnlinkable is the quote signature type for unlinkable quotes.
	SignTypeUnlinkable = 0
	// SignTypeLinkable is the quote signature type for linkable quotes.
	SignTypeLinkable = 1
)

// QuoteHeader is the header of an SGX EPID quote.
type QuoteHeader struct {
	Version     uint16
	SignType    uint16 // 0 = unlinkable, 1 = linkable
	EPIDGroupID [4]byte
	QESVN       uint16
	PCESVN      uint16
	XEID        uint32
	Basename    [32]byte
}

// EnclaveReport is the body of a local enclave report, as found in a quote.
type EnclaveReport struct {
	CPUSVN     [16]byte
	MiscSelect uint32
	Reserved1  [28]byte
	Attributes [16]byte // flags (uint64) followed by XFRM (uint64)
	MRENCLAVE  [32]byte
	Reserved2  [32]byte
	MRSIGNER   [32]byte
	Reserved3  [96]byte
	ISVProdID  uint16
	ISVSVN     uint16
	Reserved4  [60]byte
	ReportData [64]byte
}

// Quote is an SGX EPID quote.
type Quote struct {
	Header          QuoteHeader
	Body            EnclaveReport
	SignatureLength uint32
	Signature       []byte
}

// ParseQuote parses an SGX EPID quote. The expected input is the complete quote.
func ParseQuote(rawQuote []byte) (Quote, error) {
	quoteLength := len(rawQuote)
	if quoteLength < quoteMinSize {
		return Quote{}, fmt.Errorf("quote structure is too short to be parsed (received: %d bytes)", quoteLength)
	}

	header := parseQuoteHeader(rawQuote[:QuoteHeaderSize])
	if header.SignType != SignTypeUnlinkable && header.SignType != SignTypeLinkable {
		return Quote{}, fmt.Errorf("quote has unknown signature type %d", header.SignType)
	}

	body := ParseEnclaveReport([EnclaveReportSize]byte(rawQuote[QuoteHeaderSize:QuoteBodySize]))

	signatureLength := binary.LittleEndian.Uint32(rawQuote[quoteSignatureOffset:quoteMinSize])
	if uint64(signatureLength) > uint64(quoteLength-quoteMinSize) {
		return Quote{}, fmt.Errorf("quote SignatureLength is either incorrect or data is truncated (requires: %d bytes, left: %d bytes)", signatureLength, quoteLength-quoteMinSize)
	}

	return Quote{
		Header:          header,
		Body:            body,
		SignatureLength: signatureLength,
		Signature:       rawQuote[quoteMinSize : quoteMinSize+int(signatureLength)],
	}, nil
}

// ParseEnclaveReport parses the body of an enclave report.
func ParseEnclaveReport(raw [EnclaveReportSize]byte) EnclaveReport {
	return EnclaveReport{
		CPUSVN:     [16]byte(raw[0:16]),
		MiscSelect: binary.LittleEndian.Uint32(raw[16:20]),
		Reserved1:  [28]byte(raw[20:48]),
		Attributes: [16]byte(raw[48:64]),
		MRENCLAVE:  [32]byte(raw[64:96]),
		Reserved2:  [32]byte(raw[96:128]),
		MRSIGNER:   [32]byte(raw[128:160]),
		Reserved3:  [96]byte(raw[160:256]),
		ISVProdID:  binary.LittleEndian.Uint16(raw[256:258]),
		ISVSVN:     binary.LittleEndian.Uint16(raw[258:260]),
		Reserved4:  [60]byte(raw[260:320]),
		ReportData: [64]byte(raw[320:384]),
	}
}

func parseQuoteHeader(raw []byte) QuoteHeader {
	return QuoteHeader{
		Version:     binary.LittleEndian.Uint16(raw[0:2]),
		SignType:    binary.LittleEndian.Uint16(raw[2:4]),
		EPIDGroupID: [4]byte(raw[4:8]),
		QESVN:       binary.LittleEndian.Uint16(raw[8:10]),
		PCESVN:      binary.LittleEndian.Uint16(raw[10:12]),
		XEID:        binary.LittleEndian.Uint32(raw[12:16]),
		Basename:    [32]byte(raw[16:48]),
	}
}

// Debug reports whether the enclave was launched in debug mode.
func (er *EnclaveReport) Debug() bool {
	return er.Attributes[0]&0x02 != 0
}
