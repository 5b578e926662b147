package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/edgelesssys/go-ias/attestation"
	"github.com/edgelesssys/go-ias/quote"
	"github.com/edgelesssys/go-ias/verification/errdefs"
	"github.com/edgelesssys/go-ias/verification/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Names of the artifacts written by the attest command.
const (
	reportFile      = "report.json"
	signatureFile   = "report.sig"
	certificateFile = "signing_cert"
	quoteFile       = "quote"
)

func newAttestCmd(c *cli) *cobra.Command {
	var quotePath, reportPath, outDir string
	var linkable bool

	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Have IAS sign a report for a quote and verify it",
		Long: `Have IAS sign a report for a quote and verify it.

The quote is either read from --quote, or obtained from the AESM daemon for the
local report in --report. The local report must be addressed to the quoting
enclave, see the target-info command.

After successful verification, the report, its signature, and the signing
certificate chain are written to --out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (quotePath == "") == (reportPath == "") {
				return errors.New("exactly one of --quote and --report is required")
			}

			client, err := c.newIASClient()
			if err != nil {
				return err
			}

			var provider quote.Provider
			var reporter attestation.LocalReporter
			var spid quote.SPID
			opts := []attestation.Option{
				attestation.WithRetry(c.retryPolicy()),
				attestation.WithPolicy(c.cfg.ReportPolicy()),
				attestation.WithLogger(c.log),
			}
			if c.cfg.Nonces {
				opts = append(opts, attestation.WithNonces())
			}

			if quotePath != "" {
				rawQuote, err := os.ReadFile(quotePath)
				if err != nil {
					return err
				}
				provider, err = newFileQuote(rawQuote)
				if err != nil {
					return err
				}
				reporter = emptyReport
			} else {
				localReport, err := readLocalReport(reportPath)
				if err != nil {
					return err
				}
				if spid, err = c.cfg.ParsedSPID(); err != nil {
					return err
				}
				var aesmOpts []quote.AESMOption
				if linkable {
					aesmOpts = append(aesmOpts, quote.WithLinkableQuotes())
				}
				provider = c.newAESMClient(aesmOpts...)
				reporter = func(quote.TargetInfo) (quote.LocalReport, error) { return localReport, nil }
				if c.cfg.SigRL {
					opts = append(opts, attestation.WithSigRL())
				}
			}

			attester := attestation.New(provider, client, c.newVerifier(), opts...)
			evidence, err := attester.Attest(cmd.Context(), reporter, spid)
			if err != nil {
				c.log.Error("Attestation failed", zap.NamedError("kind", errdefs.KindOf(err)), zap.Error(err))
				return err
			}

			if outDir != "" {
				if err := saveEvidence(outDir, evidence, reportPath != ""); err != nil {
					return err
				}
			}
			return printReport(cmd, evidence.Response.Body)
		},
	}

	cmd.Flags().StringVar(&quotePath, "quote", "", "file holding the quote")
	cmd.Flags().StringVar(&reportPath, "report", "", "file holding a local report to quote with AESM")
	cmd.Flags().StringVar(&outDir, "out", "", "directory to write the verified artifacts to")
	cmd.Flags().BoolVar(&linkable, "linkable", false, "request a linkable quote from AESM")
	return cmd
}

// saveEvidence writes the artifacts in the form IAS sends them.
func saveEvidence(dir string, evidence attestation.Evidence, withQuote bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeFile(dir, reportFile, evidence.Response.Body); err != nil {
		return err
	}
	signature := base64.StdEncoding.EncodeToString(evidence.Response.Signature)
	if err := writeFile(dir, signatureFile, []byte(signature)); err != nil {
		return err
	}
	var chain []byte
	for _, cert := range evidence.Response.CertificateChain {
		chain = append(chain, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)
	}
	if err := writeFile(dir, certificateFile, chain); err != nil {
		return err
	}
	if withQuote {
		return writeFile(dir, quoteFile, evidence.Quote)
	}
	return nil
}

// printReport prints the signed report indented. The report itself is not modified.
func printReport(cmd *cobra.Command, body types.Report) error {
	var report json.RawMessage = json.RawMessage(body)
	return printJSON(cmd, report)
}

// fileQuote provides a quote that was created beforehand.
type fileQuote struct {
	raw []byte
	gid quote.GroupID
}

func newFileQuote(raw []byte) (*fileQuote, error) {
	parsed, err := types.ParseQuote(raw)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrInvalidArgument, "parsing quote", err)
	}
	return &fileQuote{raw: raw, gid: parsed.Header.EPIDGroupID}, nil
}

func (f *fileQuote) InitQuote(context.Context) (quote.TargetInfo, quote.GroupID, error) {
	return quote.TargetInfo{}, f.gid, nil
}

func (f *fileQuote) GetQuote(context.Context, quote.LocalReport, quote.SPID, []byte) ([]byte, error) {
	return f.raw, nil
}

func emptyReport(quote.TargetInfo) (quote.LocalReport, error) {
	return quote.LocalReport{}, nil
}

func readLocalReport(path string) (quote.LocalReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return quote.LocalReport{}, err
	}
	if len(raw) != quote.LocalReportSize {
		return quote.LocalReport{}, fmt.Errorf("local report %s has %d bytes, expected %d", path, len(raw), quote.LocalReportSize)
	}
	return quote.LocalReport(raw), nil
}
