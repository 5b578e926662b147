// Package config loads the settings of the iasctl command.
//
// Settings are read from a TOML file. The IAS API key is a secret and is only
// taken from the environment, optionally populated from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/edgelesssys/go-ias/quote"
	"github.com/edgelesssys/go-ias/verification"
	"github.com/edgelesssys/go-ias/verification/ias"
	"github.com/edgelesssys/go-ias/verification/types"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

// APIKeyEnv is the environment variable holding the IAS subscription key.
const APIKeyEnv = "IAS_API_KEY"

// knownStatuses are the quote statuses IAS may return.
var knownStatuses = []types.QuoteStatus{
	types.QuoteOK,
	types.QuoteSignatureInvalid,
	types.QuoteGroupRevoked,
	types.QuoteSignatureRevoked,
	types.QuoteKeyRevoked,
	types.QuoteSigRLVersionMismatch,
	types.QuoteGroupOutOfDate,
	types.QuoteConfigurationNeeded,
	types.QuoteSWHardeningNeeded,
	types.QuoteConfigurationAndSWHardeningNeeded,
}

// Config holds the settings of iasctl.
type Config struct {
	// Endpoint is the base URL of IAS.
	Endpoint string `toml:"endpoint"`
	// SPID is the hex encoded service provider ID.
	SPID string `toml:"spid"`
	// Timeout bounds a single request to IAS.
	Timeout time.Duration `toml:"timeout"`
	// MaxReportAge is the maximum age of an accepted report.
	MaxReportAge time.Duration `toml:"max_report_age"`
	// AllowedQuoteStatuses lists the accepted quote statuses.
	AllowedQuoteStatuses []string `toml:"allowed_quote_statuses"`
	// AESMSocket is the socket of the AESM daemon.
	AESMSocket string `toml:"aesm_socket"`
	// Nonces sends a random nonce with every report request.
	Nonces bool `toml:"nonces"`
	// SigRL fetches the signature revocation list before requesting a quote.
	SigRL bool `toml:"sigrl"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
	// Development switches to human readable logs.
	Development bool `toml:"development"`
	// Retry configures retries of failed attestations.
	Retry Retry `toml:"retry"`

	// APIKey is read from APIKeyEnv, never from the file.
	APIKey string `toml:"-"`
}

// Retry configures retries of failed attestations.
type Retry struct {
	// MaxElapsed is the total time spent retrying. Zero disables retries.
	MaxElapsed time.Duration `toml:"max_elapsed"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Endpoint:             ias.DevelopmentURL,
		Timeout:              30 * time.Second,
		MaxReportAge:         verification.DefaultMaxReportAge,
		AllowedQuoteStatuses: []string{string(types.QuoteOK)},
		AESMSocket:           quote.DefaultAESMSocket,
		LogLevel:             "info",
	}
}

// Load reads the configuration file at path on top of the defaults
// and takes the API key from the environment.
// An empty path only applies the defaults. Unknown keys in the file are an error.
func Load(path string, envFiles ...string) (*Config, error) {
	c := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, c)
		if err != nil {
			return nil, fmt.Errorf("decoding config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := loadEnv(envFiles...); err != nil {
		return nil, err
	}
	c.APIKey = os.Getenv(APIKeyEnv)
	return c, nil
}

// loadEnv populates the environment from .env files. Missing files are skipped.
// Variables already set in the environment take precedence.
func loadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading environment from %s: %w", file, err)
		}
	}
	return nil
}

// Validate reports all invalid settings.
func (c *Config) Validate() error {
	var err error

	endpoint, parseErr := url.Parse(c.Endpoint)
	if parseErr != nil {
		err = multierr.Append(err, fmt.Errorf("endpoint: %w", parseErr))
	} else if endpoint.Host == "" || (endpoint.Scheme != "https" && endpoint.Scheme != "http") {
		err = multierr.Append(err, fmt.Errorf("endpoint: %q is not an http(s) URL", c.Endpoint))
	}

	if c.SPID != "" {
		if _, spidErr := quote.ParseSPID(c.SPID); spidErr != nil {
			err = multierr.Append(err, fmt.Errorf("spid: %w", spidErr))
		}
	}
	if c.Timeout <= 0 {
		err = multierr.Append(err, errors.New("timeout: must be positive"))
	}
	if c.MaxReportAge <= 0 {
		err = multierr.Append(err, errors.New("max_report_age: must be positive"))
	}
	if c.Retry.MaxElapsed < 0 {
		err = multierr.Append(err, errors.New("retry.max_elapsed: must not be negative"))
	}

	if len(c.AllowedQuoteStatuses) == 0 {
		err = multierr.Append(err, errors.New("allowed_quote_statuses: must not be empty"))
	}
	for _, status := range c.AllowedQuoteStatuses {
		if !slices.Contains(knownStatuses, types.QuoteStatus(status)) {
			err = multierr.Append(err, fmt.Errorf("allowed_quote_statuses: unknown status %q", status))
		}
	}

	if _, levelErr := zapcore.ParseLevel(c.LogLevel); levelErr != nil {
		err = multierr.Append(err, fmt.Errorf("log_level: %w", levelErr))
	}
	return err
}

// RequireAPIKey returns an error if no API key was found in the environment.
func (c *Config) RequireAPIKey() error {
	if c.APIKey == "" {
		return fmt.Errorf("no IAS API key: set %s in the environment or a .env file", APIKeyEnv)
	}
	return nil
}

// ParsedSPID returns the configured SPID.
func (c *Config) ParsedSPID() (quote.SPID, error) {
	if c.SPID == "" {
		return quote.SPID{}, errors.New("no SPID configured")
	}
	return quote.ParseSPID(c.SPID)
}

// ReportPolicy returns the report policy described by the configuration.
func (c *Config) ReportPolicy() verification.ReportPolicy {
	statuses := make([]types.QuoteStatus, 0, len(c.AllowedQuoteStatuses))
	for _, status := range c.AllowedQuoteStatuses {
		statuses = append(statuses, types.QuoteStatus(status))
	}
	return verification.ReportPolicy{
		MaxAge:          c.MaxReportAge,
		AllowedStatuses: statuses,
	}
}
