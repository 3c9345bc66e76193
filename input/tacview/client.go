package tacview

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/acmistream/acmi"
	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/metric"
	"github.com/c360/acmistream/pkg/retry"
)

const componentName = "tacview-client"

// State is the connection state of a Client.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Deps are the optional collaborators of a Client.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Handshake returns the bytes a client sends right after connecting.
func Handshake(client, password string) []byte {
	return []byte(strings.Join([]string{
		acmi.StreamProtocol,
		acmi.TelemetryProtocol,
		client,
		password,
	}, "\n") + "\x00")
}

// Client reads ACMI lines from a Tacview server. ReadLine, Connect and
// Reconnect must be called from one goroutine. State and Stats are safe from
// any goroutine.
type Client struct {
	cfg       config.TacviewConfig
	handshake []byte
	logger    *slog.Logger
	metrics   *clientMetrics

	conn   net.Conn
	reader *bufio.Reader
	state  atomic.Int32

	captureMu sync.Mutex
	capture   *os.File

	lines      atomic.Int64
	bytes      atomic.Int64
	attempts   atomic.Int64
	reconnects atomic.Int64
}

// Stats are the client's counters.
type Stats struct {
	Lines      int64
	Bytes      int64
	Attempts   int64
	Reconnects int64
}

// NewClient returns a disconnected client for cfg.
func NewClient(cfg config.TacviewConfig, deps Deps) (*Client, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, componentName, "NewClient", "server address")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", componentName)
	}
	m, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, componentName, "NewClient", "register metrics")
	}

	c := &Client{
		cfg:       cfg,
		handshake: Handshake(cfg.Client, cfg.Password),
		logger:    logger,
		metrics:   m,
	}

	if cfg.CapturePath != "" {
		f, err := os.OpenFile(cfg.CapturePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.WrapFatal(err, componentName, "NewClient", "open capture file")
		}
		c.capture = f
		logger.Info("Capturing raw stream", "path", cfg.CapturePath)
	}
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.recordState(s)
}

// Stats returns the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Lines:      c.lines.Load(),
		Bytes:      c.bytes.Load(),
		Attempts:   c.attempts.Load(),
		Reconnects: c.reconnects.Load(),
	}
}

// Connect dials the server and performs the handshake, retrying every
// ReconnectDelay until it succeeds or ctx is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, componentName, "Connect", "connect")
	}

	policy := retry.Fixed(c.cfg.ReconnectDelay)
	policy.OnRetry = func(attempt int, err error, next time.Duration) {
		c.logger.Warn("Connection attempt failed, retrying",
			"address", c.cfg.Address(), "attempt", attempt, "retry_in", next, "error", err)
	}

	err := retry.Do(ctx, policy, func() error {
		return c.dial(ctx)
	})
	if err != nil {
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.WrapTransient(err, componentName, "Connect", "connect")
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	c.attempts.Add(1)
	c.metrics.recordAttempt()
	c.setState(StateConnecting)

	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Address())
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.setState(StateHandshaking)
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	if err := c.exchangeHandshake(ctx); err != nil {
		c.drop()
		return err
	}

	c.setState(StateStreaming)
	c.logger.Info("Connected to Tacview server",
		"address", c.cfg.Address(), "client", c.cfg.Client)
	return nil
}

func (c *Client) exchangeHandshake(ctx context.Context) error {
	if c.cfg.DialTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.DialTimeout))
	}
	if _, err := c.conn.Write(c.handshake); err != nil {
		return errors.Join(errors.ErrHandshakeFailed, err)
	}
	_ = c.conn.SetWriteDeadline(time.Time{})

	line, err := c.readPhysical(ctx)
	if err != nil {
		return errors.Join(errors.ErrHandshakeFailed, err)
	}
	c.record(line)
	// Some relays answer with a banner of their own. The stream that
	// follows is still ACMI, so keep reading.
	if strings.Trim(line, "\x00 \t") != acmi.StreamProtocol {
		c.logger.Warn("Unexpected server greeting",
			"address", c.cfg.Address(), "greeting", strings.TrimRight(line, "\x00"))
	}
	return nil
}

// ReadLine returns the next logical line without its line terminator.
func (c *Client) ReadLine(ctx context.Context) (string, error) {
	if c.conn == nil {
		return "", errors.WrapTransient(errors.ErrNoConnection, componentName, "ReadLine", "read line")
	}

	line, err := c.readPhysical(ctx)
	for err == nil && continues(line) {
		var next string
		next, err = c.readPhysical(ctx)
		line = line[:len(line)-1] + "\n" + next
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.metrics.recordReadError(err)
		c.setState(StateDisconnected)
		return "", errors.WrapTransient(errors.Join(errors.ErrConnectionLost, err), componentName, "ReadLine", "read line")
	}

	c.record(line)
	return line, nil
}

// readPhysical reads up to the next newline under the read timeout. A
// cancelled ctx interrupts the read.
func (c *Client) readPhysical(ctx context.Context) (string, error) {
	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	line, err := c.reader.ReadString('\n')
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil:
			return "", errors.Join(errors.ErrConnectionTimeout, err)
		case errors.Is(err, io.EOF):
			return "", io.EOF
		default:
			return "", err
		}
	}
	n := len(line)
	c.bytes.Add(int64(n))
	c.metrics.recordBytes(n)
	return strings.TrimRight(line, "\r\n"), nil
}

// continues reports whether line ends in an unescaped backslash.
func continues(line string) bool {
	n := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

func (c *Client) record(line string) {
	c.lines.Add(1)
	c.metrics.recordLine()

	if c.capture == nil {
		return
	}
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if _, err := c.capture.WriteString(line + "\n"); err != nil {
		c.logger.Error("Capture write failed, disabling capture", "error", err)
		_ = c.capture.Close()
		c.capture = nil
	}
}

// Reconnect drops the current connection and connects again.
func (c *Client) Reconnect(ctx context.Context) error {
	c.drop()
	c.reconnects.Add(1)
	c.metrics.recordReconnect()
	c.logger.Warn("Reconnecting to Tacview server", "address", c.cfg.Address())
	return c.Connect(ctx)
}

func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
	c.setState(StateDisconnected)
}

// Close closes the connection and the capture file.
func (c *Client) Close() error {
	c.drop()
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.capture != nil {
		err := c.capture.Close()
		c.capture = nil
		if err != nil {
			return errors.Wrap(err, componentName, "Close", "close capture file")
		}
	}
	return nil
}
