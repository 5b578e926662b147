/*
Package ias provides a client for Intel's Attestation Service (IAS).

The client submits an EPID quote and returns the attestation verification report
together with the authority's signature and signing certificate chain:

	┌──────────┐   POST /attestation/v4/report    ┌─────────┐
	│  Client  ├─────────────────────────────────►│   IAS   │
	│          │   {"isvEnclaveQuote":"<b64>"}    │         │
	│          │◄─────────────────────────────────┤         │
	└────┬─────┘   body: report (JSON)            └─────────┘
	     │         X-IASReport-Signature: base64(RSA-SHA256(body))
	     │         X-IASReport-Signing-Certificate: percent-encoded PEM chain
	     ▼
	ParseResponse ──► types.ParsedReport ──► verification.IASVerifier

The client does not verify what it receives. Callers are expected to pass the
returned artifacts to the verifier, after logging or storing them if desired.
Every call opens exactly one connection and is never retried.
*/
package ias

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/edgelesssys/go-ias/verification/decode"
	"github.com/edgelesssys/go-ias/verification/errdefs"
	"github.com/edgelesssys/go-ias/verification/types"
	"go.uber.org/zap"
)

const (
	// DevelopmentURL is the base URL of the IAS development environment.
	DevelopmentURL = "https://api.trustedservices.intel.com/sgx/dev"
	// ProductionURL is the base URL of the IAS production environment.
	ProductionURL = "https://api.trustedservices.intel.com/sgx"

	// SignatureHeader is the response header holding the base64 encoded report signature.
	SignatureHeader = "X-IASReport-Signature"
	// SigningCertificateHeader is the response header holding the percent-encoded signing certificate chain.
	SigningCertificateHeader = "X-IASReport-Signing-Certificate"

	// subscriptionKeyHeader is the request header carrying the API key.
	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
	// requestIDHeader is a response header identifying the request on the service side.
	requestIDHeader = "Request-ID"
	// retryAfterHeader is sent with 503 responses.
	retryAfterHeader = "Retry-After"
	// attestationAPI is the API to use when talking to IAS.
	attestationAPI = "attestation"
	// apiVersion is the version of the IAS API to use.
	apiVersion = "v4"
	// reportPath is the path to request an attestation verification report.
	reportPath = "report"
	// sigrlPath is the path to retrieve a signature revocation list.
	sigrlPath = "sigrl"
	// maxNonceLength is the longest nonce IAS accepts.
	maxNonceLength = 32
	// maxResponseSize is the largest response body accepted.
	maxResponseSize = 1 << 20
	// defaultTimeout bounds a single round trip to IAS.
	defaultTimeout = 30 * time.Second
)

type iasAPI interface {
	send(ctx context.Context, method string, uri *url.URL, body []byte) (respBody []byte, header http.Header, err error)
}

// Client is a client for Intel's Attestation Service.
type Client struct {
	api     iasAPI
	baseURL *url.URL
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// WithHTTPClient sets the HTTP client used to talk to IAS.
// The client's timeout is left untouched.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithTimeout bounds each round trip to IAS. Expiry is reported as a transport error.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.timeout = timeout }
}

// WithLogger sets the logger of the client.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New returns a new Client for the IAS instance at endpoint, e.g. [DevelopmentURL].
func New(endpoint, apiKey string, opts ...Option) (*Client, error) {
	baseURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrInvalidArgument, "parsing endpoint", err)
	}
	if baseURL.Scheme != "https" && baseURL.Scheme != "http" {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "parsing endpoint", "unsupported scheme %q", baseURL.Scheme)
	}
	if baseURL.Host == "" {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "parsing endpoint", "endpoint %q has no host", endpoint)
	}
	if apiKey == "" {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "creating client", "no API key supplied")
	}

	o := options{timeout: defaultTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{
			Timeout: o.timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DisableKeepAlives:   true,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &Client{
		api: &httpAPI{
			client: o.httpClient,
			apiKey: apiKey,
		},
		baseURL: baseURL,
		log:     o.logger.Named("ias"),
	}, nil
}

// Attest submits quote to IAS and returns the signed report and its signature.
// Neither is verified. Use [Client.AttestParsed] to also receive the signing certificate chain.
func (c *Client) Attest(ctx context.Context, quote []byte) (types.Report, types.ReportSignature, error) {
	parsed, err := c.AttestParsed(ctx, quote)
	if err != nil {
		return nil, nil, err
	}
	return parsed.Body, parsed.Signature, nil
}

// AttestParsed submits quote to IAS and returns all artifacts of the response.
func (c *Client) AttestParsed(ctx context.Context, quote []byte) (types.ParsedReport, error) {
	return c.attest(ctx, quote, "")
}

// AttestWithNonce is like [Client.AttestParsed], but asks IAS to echo nonce in the report.
// The nonce must be between 1 and 32 characters long.
func (c *Client) AttestWithNonce(ctx context.Context, quote []byte, nonce string) (types.ParsedReport, error) {
	if len(nonce) == 0 || len(nonce) > maxNonceLength {
		return types.ParsedReport{}, errdefs.New(errdefs.ErrInvalidArgument, "checking nonce",
			"nonce must be between 1 and %d characters, got %d", maxNonceLength, len(nonce))
	}
	return c.attest(ctx, quote, nonce)
}

func (c *Client) attest(ctx context.Context, quote []byte, nonce string) (types.ParsedReport, error) {
	if len(quote) == 0 {
		return types.ParsedReport{}, errdefs.New(errdefs.ErrInvalidArgument, "checking quote", "quote is empty")
	}

	body, err := reportRequestBody(quote, nonce)
	if err != nil {
		return types.ParsedReport{}, err
	}

	uri := c.getIASURL(reportPath)
	c.log.Debug("Requesting attestation verification report", zap.Stringer("uri", uri), zap.Int("quote_size", len(quote)))

	respBody, header, err := c.api.send(ctx, http.MethodPost, uri, body)
	if err != nil {
		return types.ParsedReport{}, fmt.Errorf("requesting report from IAS: %w", err)
	}
	c.log.Info("Received attestation verification report",
		zap.String("request_id", header.Get(requestIDHeader)), zap.Int("report_size", len(respBody)))

	parsed, err := ParseResponse(respBody, header)
	if err != nil {
		return types.ParsedReport{}, fmt.Errorf("parsing IAS response: %w", err)
	}
	return parsed, nil
}

// GetSigRL retrieves the signature revocation list for an EPID group.
// An empty list is valid and returned as nil.
func (c *Client) GetSigRL(ctx context.Context, gid [4]byte) ([]byte, error) {
	// The group ID is little-endian in quotes, IAS expects it big-endian.
	groupID := hex.EncodeToString([]byte{gid[3], gid[2], gid[1], gid[0]})
	uri := c.getIASURL(sigrlPath, groupID)

	respBody, header, err := c.api.send(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("requesting SigRL from IAS: %w", err)
	}
	c.log.Debug("Received SigRL",
		zap.String("gid", groupID), zap.String("request_id", header.Get(requestIDHeader)), zap.Int("size", len(respBody)))

	respBody = bytes.TrimSpace(respBody)
	if len(respBody) == 0 {
		return nil, nil
	}
	sigRL, err := decode.Base64(respBody)
	if err != nil {
		return nil, fmt.Errorf("decoding SigRL: %w", err)
	}
	return sigRL, nil
}

// ParseResponse extracts the report, its signature, and the signing certificate chain
// from the body and headers of a successful IAS response.
// The body is kept as is, since the signature was computed over these exact bytes.
func ParseResponse(body []byte, header http.Header) (types.ParsedReport, error) {
	signatureValue := header.Get(SignatureHeader)
	if signatureValue == "" {
		return types.ParsedReport{}, errdefs.New(errdefs.ErrMissingHeader, "parsing response", "no %s header", SignatureHeader)
	}
	certificateValue := header.Get(SigningCertificateHeader)
	if certificateValue == "" {
		return types.ParsedReport{}, errdefs.New(errdefs.ErrMissingHeader, "parsing response", "no %s header", SigningCertificateHeader)
	}

	rawSignature, err := decode.Base64([]byte(signatureValue))
	if err != nil {
		return types.ParsedReport{}, fmt.Errorf("decoding %s header: %w", SignatureHeader, err)
	}
	signature, err := types.NewReportSignature(rawSignature)
	if err != nil {
		return types.ParsedReport{}, err
	}

	chain, err := certificateChainFromHeader(certificateValue)
	if err != nil {
		return types.ParsedReport{}, fmt.Errorf("decoding %s header: %w", SigningCertificateHeader, err)
	}

	return types.ParsedReport{
		Body:             types.Report(body),
		Signature:        signature,
		CertificateChain: chain,
	}, nil
}

// certificateChainFromHeader parses the signing certificate chain from the IAS response header.
// IAS escapes line breaks as %0A and percent-encodes the rest of the PEM chain.
// The chain contains the report signing certificate followed by the root CA.
func certificateChainFromHeader(header string) ([]*x509.Certificate, error) {
	pemChain, err := decode.PercentDecode(decode.StripEscapedNewlines(header))
	if err != nil {
		return nil, err
	}

	blocks, err := decode.PEMBlocks(pemChain, "CERTIFICATE")
	if err != nil {
		return nil, err
	}

	chain := make([]*x509.Certificate, 0, len(blocks))
	for i, der := range blocks {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.ErrCertificate, fmt.Sprintf("parsing certificate %d of chain", i), err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// reportRequestBody returns the JSON request body followed by CRLF.
func reportRequestBody(quote []byte, nonce string) ([]byte, error) {
	body, err := json.Marshal(reportRequest{
		ISVEnclaveQuote: quote,
		Nonce:           nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling report request: %w", err)
	}
	return append(body, '\r', '\n'), nil
}

// reportRequest is the request body of the report API.
// ISVEnclaveQuote is base64 encoded by encoding/json.
type reportRequest struct {
	ISVEnclaveQuote []byte `json:"isvEnclaveQuote"`
	Nonce           string `json:"nonce,omitempty"`
}

// getIASURL returns a URL to connect to IAS for the given path.
func (c *Client) getIASURL(requestPath ...string) *url.URL {
	elems := append([]string{"/", c.baseURL.Path, attestationAPI, apiVersion}, requestPath...)
	return &url.URL{
		Scheme: c.baseURL.Scheme,
		Host:   c.baseURL.Host,
		Path:   path.Join(elems...),
	}
}

type httpAPI struct {
	client *http.Client
	apiKey string
}

// send issues a single request to IAS. Connections are never reused.
func (a *httpAPI) send(ctx context.Context, method string, uri *url.URL, body []byte) ([]byte, http.Header, error) {
	reqBody := io.Reader(http.NoBody)
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri.String(), reqBody)
	if err != nil {
		return nil, nil, errdefs.Wrap(errdefs.ErrInvalidArgument, "creating request", err)
	}
	req.Close = true
	req.Header.Set(subscriptionKeyHeader, a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, errdefs.Wrap(errdefs.ErrTransport, "sending request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, nil, errdefs.Wrap(errdefs.ErrTransport, "reading response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, errdefs.Wrap(errdefs.ErrProtocol, "checking response status", newStatusError(resp, respBody))
	}
	if len(respBody) > maxResponseSize {
		return nil, nil, errdefs.New(errdefs.ErrProtocol, "reading response", "response exceeds %d bytes", maxResponseSize)
	}
	return respBody, resp.Header, nil
}

// StatusError is returned when IAS answers with a status other than 200 OK.
type StatusError struct {
	StatusCode int
	RequestID  string
	// RetryAfter is the delay IAS asked for, zero if not given.
	RetryAfter time.Duration
	// Detail is the start of the response body, if any.
	Detail string
}

func newStatusError(resp *http.Response, body []byte) *StatusError {
	e := &StatusError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get(requestIDHeader),
		Detail:     strings.TrimSpace(string(body[:min(len(body), 256)])),
	}
	if seconds, err := strconv.Atoi(resp.Header.Get(retryAfterHeader)); err == nil && seconds > 0 {
		e.RetryAfter = time.Duration(seconds) * time.Second
	}
	return e
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("IAS returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), statusDescription(e.StatusCode))
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (request ID %s)", e.RequestID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

func statusDescription(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "invalid attestation evidence payload"
	case http.StatusUnauthorized:
		return "failed to authenticate or authorize request"
	case http.StatusNotFound:
		return "GID does not refer to a valid EPID group ID"
	case http.StatusInternalServerError:
		return "internal error occurred"
	case http.StatusServiceUnavailable:
		return "service is temporarily unable to process the request"
	default:
		return "unexpected response"
	}
}
