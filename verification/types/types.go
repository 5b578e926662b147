/*
# Attestation Data Types

This package contains data types and parsing functions used for EPID attestation
against Intel's Attestation Service.

## EPID Quote Format

	To give a *rough* understanding of how a quote is formed see the graphic below:

	           Quote                                         EnclaveReport
	         ParseQuote                                   ParseEnclaveReport
	┌─────────────────────────┐                  ┌─────────────────────────────────┐
	│       QuoteHeader       │                  │         CPUSVN (16 bytes)       │
	│       (48 bytes)        │                  ├─────────────────────────────────┤
	├─────────────────────────┤                  │       MiscSelect (4 bytes)      │
	│                         │                  ├─────────────────────────────────┤
	│      EnclaveReport      ├─────────────────►│      Attributes (16 bytes)      │
	│       (384 bytes)       │                  ├─────────────────────────────────┤
	│                         │                  │      MRENCLAVE (32 bytes)       │
	├─────────────────────────┤                  ├─────────────────────────────────┤
	│     SignatureLength     │                  │       MRSIGNER (32 bytes)       │
	│        (4 bytes)        │                  ├─────────────────────────────────┤
	├─────────────────────────┤                  │   ISVProdID / ISVSVN (4 bytes)  │
	│        Signature        │                  ├─────────────────────────────────┤
	│       (variable)        │                  │      ReportData (64 bytes)      │
	└─────────────────────────┘                  └─────────────────────────────────┘

	Header and EnclaveReport (432 bytes) are echoed by the attestation service
	in the isvEnclaveQuoteBody field of the AttestationVerificationReport.

The quote is treated as an opaque blob by the report client. Parsing it is only
needed to bind a verified report to the quote that was submitted.
*/
package types
