package quote

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/edgelesssys/go-ias/verification/errdefs"
	"github.com/edgelesssys/go-ias/verification/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// DefaultAESMSocket is where the AESM daemon listens by default.
	DefaultAESMSocket = "/var/run/aesmd/aesm.socket"

	// defaultAESMTimeout is the time AESM may spend on a request, passed to the daemon.
	defaultAESMTimeout = 15 * time.Second
	// maxAESMMessageSize limits the size of a response read from the daemon.
	maxAESMMessageSize = 64 * 1024
)

// Field numbers of the AESM protobuf messages (aesm.message.Request / Response).
const (
	requestInitQuote protowire.Number = 1
	requestGetQuote  protowire.Number = 2

	responseInitQuote protowire.Number = 1
	responseGetQuote  protowire.Number = 2

	initQuoteTimeout protowire.Number = 9

	initQuoteErrorCode  protowire.Number = 1
	initQuoteTargetInfo protowire.Number = 2
	initQuoteGID        protowire.Number = 3

	getQuoteReport    protowire.Number = 1
	getQuoteQuoteType protowire.Number = 2
	getQuoteSPID      protowire.Number = 3
	getQuoteSigRL     protowire.Number = 5
	getQuoteBufSize   protowire.Number = 6
	getQuoteTimeout   protowire.Number = 9

	getQuoteResErrorCode protowire.Number = 1
	getQuoteResQuote     protowire.Number = 2
)

var _ Provider = (*AESMClient)(nil)

// AESMClient requests quotes from Intel's AESM daemon over its unix socket.
// Every request uses its own connection.
type AESMClient struct {
	socket   string
	signType uint16
	timeout  time.Duration
	log      *zap.Logger
}

// AESMOption configures an AESMClient.
type AESMOption func(*AESMClient)

// WithLinkableQuotes requests linkable instead of unlinkable quotes.
// The SPID must be registered for linkable quotes.
func WithLinkableQuotes() AESMOption {
	return func(c *AESMClient) { c.signType = types.SignTypeLinkable }
}

// WithAESMTimeout sets the time the daemon may spend on a request.
func WithAESMTimeout(timeout time.Duration) AESMOption {
	return func(c *AESMClient) { c.timeout = timeout }
}

// WithAESMLogger sets the logger of the client.
func WithAESMLogger(logger *zap.Logger) AESMOption {
	return func(c *AESMClient) { c.log = logger }
}

// NewAESMClient returns a client for the AESM daemon listening on socket.
func NewAESMClient(socket string, opts ...AESMOption) *AESMClient {
	c := &AESMClient{
		socket:   socket,
		signType: types.SignTypeUnlinkable,
		timeout:  defaultAESMTimeout,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("aesm")
	return c
}

// InitQuote asks the daemon for the quoting enclave's target info and the platform's EPID group.
func (c *AESMClient) InitQuote(ctx context.Context) (TargetInfo, GroupID, error) {
	var inner []byte
	inner = protowire.AppendTag(inner, initQuoteTimeout, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(c.timeout.Milliseconds()))

	var req []byte
	req = protowire.AppendTag(req, requestInitQuote, protowire.BytesType)
	req = protowire.AppendBytes(req, inner)

	res, err := c.transact(ctx, req, responseInitQuote)
	if err != nil {
		return TargetInfo{}, GroupID{}, fmt.Errorf("initializing quote: %w", err)
	}

	if status := errorCode(res, initQuoteErrorCode); status != StatusSuccess {
		return TargetInfo{}, GroupID{}, errdefs.Wrap(errdefs.ErrQuote, "initializing quote", status)
	}
	targetInfo := res[initQuoteTargetInfo].bytes
	if len(targetInfo) != TargetInfoSize {
		return TargetInfo{}, GroupID{}, errdefs.New(errdefs.ErrQuote, "initializing quote",
			"target info has %d bytes, expected %d", len(targetInfo), TargetInfoSize)
	}
	gid := res[initQuoteGID].bytes
	if len(gid) != len(GroupID{}) {
		return TargetInfo{}, GroupID{}, errdefs.New(errdefs.ErrQuote, "initializing quote",
			"group ID has %d bytes, expected %d", len(gid), len(GroupID{}))
	}

	c.log.Debug("Initialized quote", zap.String("gid", fmt.Sprintf("%x", gid)))
	return TargetInfo(targetInfo), GroupID(gid), nil
}

// GetQuote exchanges a local report for a quote.
// The returned quote is truncated to the length given by its signature length field.
func (c *AESMClient) GetQuote(ctx context.Context, report LocalReport, spid SPID, sigRL []byte) ([]byte, error) {
	quote, err := collect(ctx, c, report, spid, sigRL)
	if err != nil {
		return nil, err
	}
	c.log.Debug("Received quote", zap.Int("size", len(quote)), zap.Int("sigrl_size", len(sigRL)))
	return quote, nil
}

// getQuote implements rawQuoter.
func (c *AESMClient) getQuote(ctx context.Context, report LocalReport, spid SPID, sigRL []byte, buf []byte) (uint32, Status, error) {
	var inner []byte
	inner = protowire.AppendTag(inner, getQuoteReport, protowire.BytesType)
	inner = protowire.AppendBytes(inner, report[:])
	inner = protowire.AppendTag(inner, getQuoteQuoteType, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(c.signType))
	inner = protowire.AppendTag(inner, getQuoteSPID, protowire.BytesType)
	inner = protowire.AppendBytes(inner, spid[:])
	if len(sigRL) > 0 {
		inner = protowire.AppendTag(inner, getQuoteSigRL, protowire.BytesType)
		inner = protowire.AppendBytes(inner, sigRL)
	}
	inner = protowire.AppendTag(inner, getQuoteBufSize, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(len(buf)))
	inner = protowire.AppendTag(inner, getQuoteTimeout, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(c.timeout.Milliseconds()))

	var req []byte
	req = protowire.AppendTag(req, requestGetQuote, protowire.BytesType)
	req = protowire.AppendBytes(req, inner)

	res, err := c.transact(ctx, req, responseGetQuote)
	if err != nil {
		return 0, 0, fmt.Errorf("getting quote: %w", err)
	}

	if status := errorCode(res, getQuoteResErrorCode); status != StatusSuccess {
		return 0, status, nil
	}

	// The daemon returns the whole buffer, the quote itself tells its length.
	quote := res[getQuoteResQuote].bytes
	quoteLen, err := quoteLength(quote)
	if err != nil {
		return 0, 0, errdefs.Wrap(errdefs.ErrQuote, "getting quote", err)
	}
	if int(quoteLen) > len(quote) {
		return 0, 0, errdefs.New(errdefs.ErrQuote, "getting quote", "response has %d bytes, quote claims %d", len(quote), quoteLen)
	}
	copy(buf, quote)
	return quoteLen, StatusSuccess, nil
}

// transact sends a length prefixed request and returns the fields of the response's sub message.
func (c *AESMClient) transact(ctx context.Context, req []byte, responseField protowire.Number) (map[protowire.Number]field, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrQuote, "connecting to AESM", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	msg := binary.LittleEndian.AppendUint32(nil, uint32(len(req)))
	msg = append(msg, req...)
	if _, err := conn.Write(msg); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrQuote, "sending AESM request", err)
	}

	var sizePrefix [4]byte
	if _, err := io.ReadFull(conn, sizePrefix[:]); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrQuote, "reading AESM response", err)
	}
	size := binary.LittleEndian.Uint32(sizePrefix[:])
	if size > maxAESMMessageSize {
		return nil, errdefs.New(errdefs.ErrQuote, "reading AESM response", "response size %d exceeds %d", size, maxAESMMessageSize)
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(conn, raw); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrQuote, "reading AESM response", err)
	}

	outer, err := decodeMessage(raw)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrQuote, "decoding AESM response", err)
	}
	res, ok := outer[responseField]
	if !ok {
		return nil, errdefs.New(errdefs.ErrQuote, "decoding AESM response", "response has no field %d", responseField)
	}
	fields, err := decodeMessage(res.bytes)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrQuote, "decoding AESM response", err)
	}
	return fields, nil
}

// field is a decoded protobuf field. Only varint and length delimited fields are kept.
type field struct {
	varint uint64
	bytes  []byte
}

// decodeMessage decodes the top level fields of a protobuf message.
// A repeated field number keeps its last value.
func decodeMessage(b []byte) (map[protowire.Number]field, error) {
	fields := make(map[protowire.Number]field)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			fields[num] = field{varint: v}
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			fields[num] = field{bytes: v}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return fields, nil
}

// errorCode returns the status in field num. A missing error code means failure.
func errorCode(fields map[protowire.Number]field, num protowire.Number) Status {
	f, ok := fields[num]
	if !ok {
		return StatusUnexpectedError
	}
	return Status(f.varint)
}
