package main

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newSigRLCmd(c *cli) *cobra.Command {
	var gidHex, out string

	cmd := &cobra.Command{
		Use:   "sigrl",
		Short: "Retrieve the signature revocation list of an EPID group",
		Long: `Retrieve the signature revocation list of an EPID group.

The group ID is given in quote byte order, as printed by the target-info
command. The list is written to --out, or printed base64 encoded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("out") && out == "" {
				return errors.New("--out must not be empty")
			}
			gid, err := parseGroupID(gidHex)
			if err != nil {
				return err
			}
			client, err := c.newIASClient()
			if err != nil {
				return err
			}
			sigRL, err := client.GetSigRL(cmd.Context(), gid)
			if err != nil {
				return err
			}

			if len(sigRL) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "The signature revocation list is empty")
			}
			if out != "" {
				return writeFile(filepath.Dir(out), filepath.Base(out), sigRL)
			}
			if len(sigRL) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(sigRL))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&gidHex, "gid", "", "hex encoded EPID group ID")
	cmd.Flags().StringVar(&out, "out", "", "file to write the list to")
	_ = cmd.MarkFlagRequired("gid")
	return cmd
}

func parseGroupID(s string) ([4]byte, error) {
	var gid [4]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return gid, fmt.Errorf("decoding group ID: %w", err)
	}
	if len(raw) != len(gid) {
		return gid, fmt.Errorf("group ID has %d bytes, expected %d", len(raw), len(gid))
	}
	copy(gid[:], raw)
	return gid, nil
}
