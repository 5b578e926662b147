package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgelesssys/go-ias/verification"
	"github.com/edgelesssys/go-ias/verification/ias"
	"github.com/edgelesssys/go-ias/verification/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoad(t *testing.T) {
	testCases := map[string]struct {
		file    string
		want    func(*Config)
		wantErr bool
	}{
		"no file": {
			want: func(*Config) {},
		},
		"full file": {
			file: `
endpoint = "https://api.trustedservices.intel.com/sgx"
spid = "00112233445566778899AABBCCDDEEFF"
timeout = "10s"
max_report_age = "1h"
allowed_quote_statuses = ["OK", "SW_HARDENING_NEEDED"]
aesm_socket = "/tmp/aesm.socket"
nonces = true
sigrl = true
log_level = "debug"
development = true

[retry]
max_elapsed = "2m"
`,
			want: func(c *Config) {
				c.Endpoint = ias.ProductionURL
				c.SPID = "00112233445566778899AABBCCDDEEFF"
				c.Timeout = 10 * time.Second
				c.MaxReportAge = time.Hour
				c.AllowedQuoteStatuses = []string{"OK", "SW_HARDENING_NEEDED"}
				c.AESMSocket = "/tmp/aesm.socket"
				c.Nonces = true
				c.SigRL = true
				c.LogLevel = "debug"
				c.Development = true
				c.Retry.MaxElapsed = 2 * time.Minute
			},
		},
		"partial file keeps defaults": {
			file: `spid = "00112233445566778899AABBCCDDEEFF"`,
			want: func(c *Config) {
				c.SPID = "00112233445566778899AABBCCDDEEFF"
			},
		},
		"unknown key": {
			file:    `api_key = "secret"`,
			wantErr: true,
		},
		"invalid toml": {
			file:    `endpoint = `,
			wantErr: true,
		},
		"wrong type": {
			file:    `nonces = "yes"`,
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			t.Setenv(APIKeyEnv, "")

			var path string
			if tc.file != "" {
				path = filepath.Join(t.TempDir(), "iasctl.toml")
				require.NoError(os.WriteFile(path, []byte(tc.file), 0o600))
			}

			c, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
			if tc.wantErr {
				assert.Error(err)
				return
			}
			require.NoError(err)

			want := Default()
			tc.want(want)
			if diff := cmp.Diff(want, c); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadAPIKey(t *testing.T) {
	testCases := map[string]struct {
		env     string
		envFile string
		want    string
	}{
		"from environment": {
			env:  "from-env",
			want: "from-env",
		},
		"from env file": {
			envFile: "IAS_API_KEY=from-file\n",
			want:    "from-file",
		},
		"environment takes precedence": {
			env:     "from-env",
			envFile: "IAS_API_KEY=from-file\n",
			want:    "from-env",
		},
		"not set": {},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			// godotenv does not override variables that are set, even if empty.
			t.Setenv(APIKeyEnv, "")
			require.NoError(os.Unsetenv(APIKeyEnv))
			if tc.env != "" {
				t.Setenv(APIKeyEnv, tc.env)
			}

			envFile := filepath.Join(t.TempDir(), ".env")
			if tc.envFile != "" {
				require.NoError(os.WriteFile(envFile, []byte(tc.envFile), 0o600))
			}

			c, err := Load("", envFile)
			require.NoError(err)
			assert.Equal(t, tc.want, c.APIKey)
			if tc.want == "" {
				assert.Error(t, c.RequireAPIKey())
			} else {
				assert.NoError(t, c.RequireAPIKey())
			}
		})
	}
}

func TestValidate(t *testing.T) {
	testCases := map[string]struct {
		modify  func(*Config)
		wantErr bool
	}{
		"defaults": {
			modify: func(*Config) {},
		},
		"valid SPID": {
			modify: func(c *Config) { c.SPID = "00112233445566778899aabbccddeeff" },
		},
		"invalid SPID": {
			modify:  func(c *Config) { c.SPID = "0011" },
			wantErr: true,
		},
		"endpoint without scheme": {
			modify:  func(c *Config) { c.Endpoint = "api.trustedservices.intel.com" },
			wantErr: true,
		},
		"endpoint with unsupported scheme": {
			modify:  func(c *Config) { c.Endpoint = "ftp://api.trustedservices.intel.com" },
			wantErr: true,
		},
		"zero timeout": {
			modify:  func(c *Config) { c.Timeout = 0 },
			wantErr: true,
		},
		"zero max report age": {
			modify:  func(c *Config) { c.MaxReportAge = 0 },
			wantErr: true,
		},
		"negative retry": {
			modify:  func(c *Config) { c.Retry.MaxElapsed = -time.Second },
			wantErr: true,
		},
		"no allowed status": {
			modify:  func(c *Config) { c.AllowedQuoteStatuses = nil },
			wantErr: true,
		},
		"unknown status": {
			modify:  func(c *Config) { c.AllowedQuoteStatuses = []string{"OK", "FINE"} },
			wantErr: true,
		},
		"unknown log level": {
			modify:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			tc.modify(c)
			if tc.wantErr {
				assert.Error(t, c.Validate())
			} else {
				assert.NoError(t, c.Validate())
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	c := Default()
	c.Timeout = 0
	c.LogLevel = "verbose"

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Contains(t, err.Error(), "log_level")
}

func TestReportPolicy(t *testing.T) {
	c := Default()
	c.MaxReportAge = time.Hour
	c.AllowedQuoteStatuses = []string{"OK", "GROUP_OUT_OF_DATE"}

	want := verification.ReportPolicy{
		MaxAge:          time.Hour,
		AllowedStatuses: []types.QuoteStatus{types.QuoteOK, types.QuoteGroupOutOfDate},
	}
	assert.Equal(t, want, c.ReportPolicy())
}

func TestParsedSPID(t *testing.T) {
	c := Default()
	_, err := c.ParsedSPID()
	assert.Error(t, err)

	c.SPID = "00112233445566778899AABBCCDDEEFF"
	spid, err := c.ParsedSPID()
	require.NoError(t, err)
	assert.Equal(t, c.SPID, spid.String())
}

func TestNewLogger(t *testing.T) {
	testCases := map[string]struct {
		level       string
		development bool
		wantLevel   zapcore.Level
		wantErr     bool
	}{
		"production info": {
			level:     "info",
			wantLevel: zapcore.InfoLevel,
		},
		"development debug": {
			level:       "debug",
			development: true,
			wantLevel:   zapcore.DebugLevel,
		},
		"invalid level": {
			level:   "verbose",
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			c := Default()
			c.LogLevel = tc.level
			c.Development = tc.development

			logger, err := c.NewLogger()
			if tc.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.True(logger.Core().Enabled(tc.wantLevel))
			assert.False(logger.Core().Enabled(tc.wantLevel - 1))
		})
	}
}
