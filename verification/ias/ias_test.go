package ias

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/edgelesssys/go-ias/blobs"
	"github.com/edgelesssys/go-ias/verification/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

const testAPIKey = "0123456789abcdef0123456789abcdef"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew(t *testing.T) {
	testCases := map[string]struct {
		endpoint string
		apiKey   string
		wantErr  bool
	}{
		"development": {
			endpoint: DevelopmentURL,
			apiKey:   testAPIKey,
		},
		"production": {
			endpoint: ProductionURL,
			apiKey:   testAPIKey,
		},
		"no api key": {
			endpoint: DevelopmentURL,
			wantErr:  true,
		},
		"no host": {
			endpoint: "https://",
			apiKey:   testAPIKey,
			wantErr:  true,
		},
		"unsupported scheme": {
			endpoint: "ftp://api.trustedservices.intel.com",
			apiKey:   testAPIKey,
			wantErr:  true,
		},
		"not a url": {
			endpoint: "://",
			apiKey:   testAPIKey,
			wantErr:  true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			client, err := New(tc.endpoint, tc.apiKey)
			if tc.wantErr {
				assert.ErrorIs(err, errdefs.ErrInvalidArgument)
				return
			}
			assert.NoError(err)
			assert.NotNil(client)
		})
	}
}

func TestAttest(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	wantBody := `{"isvEnclaveQuote":"` + base64.StdEncoding.EncodeToString(blobs.Quote()) + `"}` + "\r\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(http.MethodPost, r.Method)
		assert.Equal("/sgx/dev/attestation/v4/report", r.URL.Path)
		assert.Equal(testAPIKey, r.Header.Get(subscriptionKeyHeader))
		assert.Equal("application/json", r.Header.Get("Content-Type"))
		assert.True(r.Close, "request must ask for the connection to be closed")

		body, err := io.ReadAll(r.Body)
		assert.NoError(err)
		assert.Equal(wantBody, string(body))
		assert.EqualValues(len(wantBody), r.ContentLength)

		writeReport(w)
	}))
	defer server.Close()

	client, err := New(server.URL+"/sgx/dev", testAPIKey, WithHTTPClient(server.Client()))
	require.NoError(err)

	report, signature, err := client.Attest(context.Background(), blobs.Quote())
	require.NoError(err)

	wantSignature, err := base64.StdEncoding.DecodeString(blobs.ReportSignature())
	require.NoError(err)
	assert.Equal(blobs.ReportJSON, []byte(report))
	assert.Equal(wantSignature, []byte(signature))
}

func TestAttestParsed(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	client := &Client{
		api:     &fakeAPI{},
		baseURL: mustParseURL(t, DevelopmentURL),
		log:     zap.NewNop(),
	}

	parsed, err := client.AttestParsed(context.Background(), blobs.Quote())
	require.NoError(err)

	assert.Equal(blobs.ReportJSON, []byte(parsed.Body))
	require.Len(parsed.CertificateChain, 2)
	assert.Equal("Test Attestation Report Signing", parsed.SigningCertificate().Subject.CommonName)
	assert.Equal("Test Attestation Report Signing CA", parsed.CertificateChain[1].Subject.CommonName)
	assert.Equal(blobs.SigningCertDERLength, len(parsed.CertificateChain[0].Raw))
	assert.Equal(blobs.RootCADERLength, len(parsed.CertificateChain[1].Raw))
}

func TestAttestWithNonce(t *testing.T) {
	testCases := map[string]struct {
		nonce   string
		wantErr bool
	}{
		"valid nonce": {
			nonce: blobs.ReportNonce,
		},
		"empty nonce": {
			nonce:   "",
			wantErr: true,
		},
		"nonce too long": {
			nonce:   blobs.ReportNonce + "0",
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			api := &fakeAPI{}
			client := &Client{
				api:     api,
				baseURL: mustParseURL(t, DevelopmentURL),
				log:     zap.NewNop(),
			}

			_, err := client.AttestWithNonce(context.Background(), blobs.Quote(), tc.nonce)
			if tc.wantErr {
				assert.ErrorIs(err, errdefs.ErrInvalidArgument)
				assert.Nil(api.lastBody, "no request must be sent")
				return
			}
			assert.NoError(err)
			assert.Contains(string(api.lastBody), `"nonce":"`+tc.nonce+`"`)
		})
	}
}

func TestAttestErrors(t *testing.T) {
	testCases := map[string]struct {
		api           *fakeAPI
		quote         []byte
		wantKind      error
		wantRetryable bool
	}{
		"empty quote": {
			api:      &fakeAPI{},
			wantKind: errdefs.ErrInvalidArgument,
		},
		"transport error": {
			api:           &fakeAPI{requestErr: errdefs.Wrap(errdefs.ErrTransport, "sending request", errors.New("connection refused"))},
			quote:         blobs.Quote(),
			wantKind:      errdefs.ErrTransport,
			wantRetryable: true,
		},
		"missing signature header": {
			api: &fakeAPI{header: http.Header{
				http.CanonicalHeaderKey(SigningCertificateHeader): {blobs.SigningCertHeader()},
			}},
			quote:    blobs.Quote(),
			wantKind: errdefs.ErrProtocol,
		},
		"missing certificate header": {
			api: &fakeAPI{header: http.Header{
				http.CanonicalHeaderKey(SignatureHeader): {blobs.ReportSignature()},
			}},
			quote:    blobs.Quote(),
			wantKind: errdefs.ErrProtocol,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			client := &Client{
				api:     tc.api,
				baseURL: mustParseURL(t, DevelopmentURL),
				log:     zap.NewNop(),
			}

			_, _, err := client.Attest(context.Background(), tc.quote)
			assert.ErrorIs(err, tc.wantKind)
			assert.Equal(tc.wantRetryable, errdefs.Retryable(err))
		})
	}
}

func TestAttestStatusError(t *testing.T) {
	testCases := map[string]struct {
		status         int
		retryAfter     string
		wantRetryable  bool
		wantRetryAfter time.Duration
	}{
		"bad request": {
			status: http.StatusBadRequest,
		},
		"unauthorized": {
			status: http.StatusUnauthorized,
		},
		"internal error": {
			status:        http.StatusInternalServerError,
			wantRetryable: true,
		},
		"service unavailable": {
			status:         http.StatusServiceUnavailable,
			retryAfter:     "5",
			wantRetryable:  true,
			wantRetryAfter: 5 * time.Second,
		},
		"unparsable retry after": {
			status:        http.StatusServiceUnavailable,
			retryAfter:    "Wed, 21 Oct 2015 07:28:00 GMT",
			wantRetryable: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set(requestIDHeader, "c1a2b3")
				if tc.retryAfter != "" {
					w.Header().Set(retryAfterHeader, tc.retryAfter)
				}
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			client, err := New(server.URL, testAPIKey, WithHTTPClient(server.Client()))
			require.NoError(err)

			_, _, err = client.Attest(context.Background(), blobs.Quote())
			assert.ErrorIs(err, errdefs.ErrProtocol)
			assert.True(IsStatus(err, tc.status))
			assert.Equal(tc.wantRetryable, errdefs.Retryable(err))

			var statusErr *StatusError
			require.ErrorAs(err, &statusErr)
			assert.Equal("c1a2b3", statusErr.RequestID)
			assert.Equal(tc.wantRetryAfter, statusErr.RetryAfter)
			assert.Contains(err.Error(), "c1a2b3")
		})
	}
}

func TestAttestResponseSize(t *testing.T) {
	testCases := map[string]struct {
		padding int
		wantErr bool
	}{
		"at limit": {
			padding: maxResponseSize - len(blobs.ReportJSON),
		},
		"one byte over limit": {
			padding: maxResponseSize - len(blobs.ReportJSON) + 1,
			wantErr: true,
		},
		"far over limit": {
			padding: 2 * maxResponseSize,
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			body := append(bytes.Clone(blobs.ReportJSON), bytes.Repeat([]byte(" "), tc.padding)...)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set(SignatureHeader, blobs.ReportSignature())
				w.Header().Set(SigningCertificateHeader, blobs.SigningCertHeader())
				_, _ = w.Write(body)
			}))
			defer server.Close()

			client, err := New(server.URL, testAPIKey, WithHTTPClient(server.Client()))
			require.NoError(err)

			report, _, err := client.Attest(context.Background(), blobs.Quote())
			if tc.wantErr {
				assert.ErrorIs(err, errdefs.ErrProtocol)
				assert.False(errdefs.Retryable(err))
				assert.Contains(err.Error(), "response exceeds")
				return
			}
			require.NoError(err)
			assert.Equal(body, []byte(report))
		})
	}
}

func TestAttestTransportError(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := server.URL
	server.Close()

	client, err := New(endpoint, testAPIKey)
	require.NoError(err)

	_, _, err = client.Attest(context.Background(), blobs.Quote())
	assert.ErrorIs(err, errdefs.ErrTransport)
	assert.True(errdefs.Retryable(err))
}

func TestAttestTimeout(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, err := New(server.URL, testAPIKey, WithTimeout(50*time.Millisecond))
	require.NoError(err)

	_, _, err = client.Attest(context.Background(), blobs.Quote())
	assert.ErrorIs(err, errdefs.ErrTransport)
}

func TestGetSigRL(t *testing.T) {
	sigRL := []byte("signature revocation list")

	testCases := map[string]struct {
		body    string
		status  int
		want    []byte
		wantErr error
	}{
		"empty list": {
			status: http.StatusOK,
		},
		"list": {
			body:   base64.StdEncoding.EncodeToString(sigRL),
			status: http.StatusOK,
			want:   sigRL,
		},
		"invalid base64": {
			body:    "not base64!",
			status:  http.StatusOK,
			wantErr: errdefs.ErrDecode,
		},
		"unknown group": {
			status:  http.StatusNotFound,
			wantErr: errdefs.ErrProtocol,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(http.MethodGet, r.Method)
				assert.Equal("/attestation/v4/sigrl/00000c0c", r.URL.Path)
				assert.Equal(testAPIKey, r.Header.Get(subscriptionKeyHeader))
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer server.Close()

			client, err := New(server.URL, testAPIKey, WithHTTPClient(server.Client()))
			require.NoError(err)

			got, err := client.GetSigRL(context.Background(), [4]byte{0x0c, 0x0c, 0x00, 0x00})
			if tc.wantErr != nil {
				assert.ErrorIs(err, tc.wantErr)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, got)
		})
	}
}

func TestParseResponse(t *testing.T) {
	garbageCertificate := url.PathEscape("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")

	testCases := map[string]struct {
		signature   string
		certificate string
		wantErr     error
	}{
		"valid": {
			signature:   blobs.ReportSignature(),
			certificate: blobs.SigningCertHeader(),
		},
		"untrusted chain still parses": {
			signature:   blobs.ReportSignature(),
			certificate: blobs.SigningCertHeaderUntrusted(),
		},
		"missing signature": {
			certificate: blobs.SigningCertHeader(),
			wantErr:     errdefs.ErrMissingHeader,
		},
		"missing certificate": {
			signature: blobs.ReportSignature(),
			wantErr:   errdefs.ErrMissingHeader,
		},
		"signature not base64": {
			signature:   "!!!" + blobs.ReportSignature(),
			certificate: blobs.SigningCertHeader(),
			wantErr:     errdefs.ErrDecode,
		},
		"signature too short": {
			signature:   base64.StdEncoding.EncodeToString(make([]byte, 64)),
			certificate: blobs.SigningCertHeader(),
			wantErr:     errdefs.ErrDecode,
		},
		"invalid percent encoding": {
			signature:   blobs.ReportSignature(),
			certificate: "%ZZ" + blobs.SigningCertHeader(),
			wantErr:     errdefs.ErrDecode,
		},
		"no PEM block": {
			signature:   blobs.ReportSignature(),
			certificate: "no%20certificate%20here",
			wantErr:     errdefs.ErrDecode,
		},
		"malformed DER": {
			signature:   blobs.ReportSignature(),
			certificate: garbageCertificate,
			wantErr:     errdefs.ErrCertificate,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			header := http.Header{}
			if tc.signature != "" {
				header.Set(SignatureHeader, tc.signature)
			}
			if tc.certificate != "" {
				header.Set(SigningCertificateHeader, tc.certificate)
			}

			parsed, err := ParseResponse(blobs.ReportJSON, header)
			if tc.wantErr != nil {
				assert.ErrorIs(err, tc.wantErr)
				return
			}
			assert.NoError(err)
			assert.Equal(blobs.ReportJSON, []byte(parsed.Body))
			assert.Len(parsed.CertificateChain, 2)
		})
	}
}

func TestParseResponseHeaderCase(t *testing.T) {
	assert := assert.New(t)

	header := http.Header{}
	header.Set("x-iasreport-signature", blobs.ReportSignature())
	header.Set("X-IASREPORT-SIGNING-CERTIFICATE", blobs.SigningCertHeader())

	_, err := ParseResponse(blobs.ReportJSON, header)
	assert.NoError(err)
}

func FuzzParseResponse(f *testing.F) {
	f.Add(blobs.ReportSignature(), blobs.SigningCertHeader())
	f.Fuzz(func(t *testing.T, signature, certificate string) {
		assert := assert.New(t)
		header := http.Header{}
		header.Set(SignatureHeader, signature)
		header.Set(SigningCertificateHeader, certificate)
		assert.NotPanics(func() { _, _ = ParseResponse(blobs.ReportJSON, header) })
	})
}

func writeReport(w http.ResponseWriter) {
	w.Header().Set(SignatureHeader, blobs.ReportSignature())
	w.Header().Set(SigningCertificateHeader, blobs.SigningCertHeader())
	w.Header().Set(requestIDHeader, "8f2b1e")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(blobs.ReportJSON)
}

type fakeAPI struct {
	header     http.Header
	requestErr error
	lastBody   []byte
}

func (a *fakeAPI) send(_ context.Context, _ string, _ *url.URL, body []byte) ([]byte, http.Header, error) {
	a.lastBody = body
	if a.requestErr != nil {
		return nil, nil, a.requestErr
	}
	header := a.header
	if header == nil {
		header = http.Header{}
		header.Set(SignatureHeader, blobs.ReportSignature())
		header.Set(SigningCertificateHeader, blobs.SigningCertHeader())
	}
	return blobs.ReportJSON, header, nil
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
