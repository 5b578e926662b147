package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgelesssys/go-ias/internal/config"
	"github.com/edgelesssys/go-ias/quote"
	"github.com/edgelesssys/go-ias/verification"
	"github.com/edgelesssys/go-ias/verification/ias"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli holds the state shared by all commands.
type cli struct {
	configPath string
	envFile    string

	cfg *config.Config
	log *zap.Logger

	// verifierOpts are applied after the options derived from the configuration.
	verifierOpts []verification.Option
	// httpClient replaces the client's default HTTP client if set.
	httpClient *http.Client
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "iasctl",
		Short:        "Attest SGX enclaves with the Intel Attestation Service",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}
	// Disable the "help" subcommand, -h and --help are enough.
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a TOML configuration file")
	cmd.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "file to load "+config.APIKeyEnv+" from if it is not set")

	cmd.AddCommand(
		newAttestCmd(c),
		newVerifyCmd(c),
		newQuoteCmd(c),
		newTargetInfoCmd(c),
		newSigRLCmd(c),
		newInspectCmd(c),
	)
	return cmd
}

func (c *cli) load() error {
	cfg, err := config.Load(c.configPath, c.envFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = logger
	return nil
}

func (c *cli) newIASClient() (*ias.Client, error) {
	if err := c.cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	opts := []ias.Option{ias.WithTimeout(c.cfg.Timeout), ias.WithLogger(c.log)}
	if c.httpClient != nil {
		opts = append(opts, ias.WithHTTPClient(c.httpClient))
	}
	return ias.New(c.cfg.Endpoint, c.cfg.APIKey, opts...)
}

func (c *cli) newVerifier() *verification.IASVerifier {
	opts := append([]verification.Option{verification.WithLogger(c.log)}, c.verifierOpts...)
	return verification.New(opts...)
}

func (c *cli) newAESMClient(opts ...quote.AESMOption) *quote.AESMClient {
	if !quote.DeviceAvailable() {
		c.log.Warn("No SGX device found, quoting will likely fail")
	}
	return quote.NewAESMClient(c.cfg.AESMSocket, append(opts, quote.WithAESMLogger(c.log))...)
}

// retryPolicy returns the configured retry policy, or nil if retries are disabled.
func (c *cli) retryPolicy() backoff.BackOff {
	if c.cfg.Retry.MaxElapsed <= 0 {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.Retry.MaxElapsed
	return b
}

func writeFile(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// printJSON writes v indented to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
