package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/edgelesssys/go-ias/verification/crypto"
	"github.com/edgelesssys/go-ias/verification/decode"
	"github.com/edgelesssys/go-ias/verification/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newVerifyCmd(c *cli) *cobra.Command {
	var reportPath, signaturePath, certPath, quotePath, nonce string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a saved attestation verification report offline",
		Long: `Verify a saved attestation verification report offline.

The files are expected in the form written by the attest command: the report
as signed by IAS, the base64 encoded signature, and the PEM encoded signing
certificate chain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := readParsedReport(reportPath, signaturePath, certPath)
			if err != nil {
				return err
			}

			policy := c.cfg.ReportPolicy()
			policy.Nonce = nonce
			if quotePath != "" {
				if policy.Quote, err = os.ReadFile(quotePath); err != nil {
					return err
				}
			}

			report, err := c.newVerifier().VerifyReport(parsed, policy)
			if err != nil {
				return err
			}
			c.log.Info("Report verified", zap.String("report_id", report.ID), zap.String("status", string(report.ISVEnclaveQuoteStatus)))
			return printReport(cmd, parsed.Body)
		},
	}

	cmd.Flags().StringVar(&reportPath, "report", reportFile, "file holding the signed report")
	cmd.Flags().StringVar(&signaturePath, "sig", signatureFile, "file holding the base64 encoded report signature")
	cmd.Flags().StringVar(&certPath, "cert", certificateFile, "file holding the PEM encoded signing certificate chain")
	cmd.Flags().StringVar(&quotePath, "quote", "", "file holding the quote the report must belong to")
	cmd.Flags().StringVar(&nonce, "nonce", "", "nonce the report must contain")
	return cmd
}

func readParsedReport(reportPath, signaturePath, certPath string) (types.ParsedReport, error) {
	body, err := os.ReadFile(reportPath)
	if err != nil {
		return types.ParsedReport{}, err
	}

	encodedSignature, err := os.ReadFile(signaturePath)
	if err != nil {
		return types.ParsedReport{}, err
	}
	rawSignature, err := decode.Base64(bytes.TrimSpace(encodedSignature))
	if err != nil {
		return types.ParsedReport{}, fmt.Errorf("decoding %s: %w", signaturePath, err)
	}
	signature, err := types.NewReportSignature(rawSignature)
	if err != nil {
		return types.ParsedReport{}, fmt.Errorf("decoding %s: %w", signaturePath, err)
	}

	chainPEM, err := os.ReadFile(certPath)
	if err != nil {
		return types.ParsedReport{}, err
	}
	chain, err := crypto.ParsePEMCertificateChain(chainPEM)
	if err != nil {
		return types.ParsedReport{}, fmt.Errorf("reading %s: %w", certPath, err)
	}
	if len(chain) == 0 {
		return types.ParsedReport{}, fmt.Errorf("%s holds no certificate", certPath)
	}

	return types.ParsedReport{
		Body:             body,
		Signature:        signature,
		CertificateChain: chain,
	}, nil
}
