package main

import (
	"encoding/hex"
	"os"

	"github.com/edgelesssys/go-ias/verification/types"
	"github.com/spf13/cobra"
)

// quoteSummary is the printed form of a quote.
type quoteSummary struct {
	Version         uint16 `json:"version"`
	SignType        uint16 `json:"signType"`
	EPIDGroupID     string `json:"epidGroupID"`
	QESVN           uint16 `json:"qeSVN"`
	PCESVN          uint16 `json:"pceSVN"`
	Basename        string `json:"basename"`
	CPUSVN          string `json:"cpuSVN"`
	Attributes      string `json:"attributes"`
	Debug           bool   `json:"debug"`
	MRENCLAVE       string `json:"mrenclave"`
	MRSIGNER        string `json:"mrsigner"`
	ISVProdID       uint16 `json:"isvProdID"`
	ISVSVN          uint16 `json:"isvSVN"`
	ReportData      string `json:"reportData"`
	SignatureLength uint32 `json:"signatureLength"`
}

func newInspectCmd(*cli) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect QUOTE",
		Short: "Print the fields of a quote without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			q, err := types.ParseQuote(raw)
			if err != nil {
				return err
			}
			return printJSON(cmd, summarizeQuote(q))
		},
	}
}

func summarizeQuote(q types.Quote) quoteSummary {
	return quoteSummary{
		Version:         q.Header.Version,
		SignType:        q.Header.SignType,
		EPIDGroupID:     hex.EncodeToString(q.Header.EPIDGroupID[:]),
		QESVN:           q.Header.QESVN,
		PCESVN:          q.Header.PCESVN,
		Basename:        hex.EncodeToString(q.Header.Basename[:]),
		CPUSVN:          hex.EncodeToString(q.Body.CPUSVN[:]),
		Attributes:      hex.EncodeToString(q.Body.Attributes[:]),
		Debug:           q.Body.Debug(),
		MRENCLAVE:       hex.EncodeToString(q.Body.MRENCLAVE[:]),
		MRSIGNER:        hex.EncodeToString(q.Body.MRSIGNER[:]),
		ISVProdID:       q.Body.ISVProdID,
		ISVSVN:          q.Body.ISVSVN,
		ReportData:      hex.EncodeToString(q.Body.ReportData[:]),
		SignatureLength: q.SignatureLength,
	}
}
