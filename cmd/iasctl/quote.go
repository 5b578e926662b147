package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edgelesssys/go-ias/quote"
	"github.com/spf13/cobra"
)

func newQuoteCmd(c *cli) *cobra.Command {
	var reportPath, spidHex, sigRLPath, out string
	var linkable bool

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Obtain a quote for a local report from the AESM daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			localReport, err := readLocalReport(reportPath)
			if err != nil {
				return err
			}

			var spid quote.SPID
			if spidHex != "" {
				spid, err = quote.ParseSPID(spidHex)
			} else {
				spid, err = c.cfg.ParsedSPID()
			}
			if err != nil {
				return err
			}

			var sigRL []byte
			if sigRLPath != "" {
				if sigRL, err = os.ReadFile(sigRLPath); err != nil {
					return err
				}
			}

			var opts []quote.AESMOption
			if linkable {
				opts = append(opts, quote.WithLinkableQuotes())
			}
			rawQuote, err := c.newAESMClient(opts...).GetQuote(cmd.Context(), localReport, spid, sigRL)
			if err != nil {
				return err
			}
			if err := writeFile(filepath.Dir(out), filepath.Base(out), rawQuote); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d byte quote to %s\n", len(rawQuote), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&reportPath, "report", "", "file holding the local report")
	cmd.Flags().StringVar(&spidHex, "spid", "", "hex encoded SPID (defaults to the configured SPID)")
	cmd.Flags().StringVar(&sigRLPath, "sigrl", "", "file holding the signature revocation list of the platform's group")
	cmd.Flags().StringVar(&out, "out", quoteFile, "file to write the quote to")
	cmd.Flags().BoolVar(&linkable, "linkable", false, "request a linkable quote")
	_ = cmd.MarkFlagRequired("report")
	return cmd
}

func newTargetInfoCmd(c *cli) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "target-info",
		Short: "Get the quoting enclave's target info and the platform's EPID group",
		Long: `Get the quoting enclave's target info and the platform's EPID group.

The target info is written to --out. An enclave addresses its local report to
the quoting enclave with it. The EPID group ID is printed in quote byte order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			targetInfo, gid, err := c.newAESMClient().InitQuote(cmd.Context())
			if err != nil {
				return err
			}
			if err := writeFile(filepath.Dir(out), filepath.Base(out), targetInfo[:]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(gid[:]))
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "target_info", "file to write the target info to")
	return cmd
}
