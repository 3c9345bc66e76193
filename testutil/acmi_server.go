package testutil

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// DefaultGreeting is what a Tacview server sends after accepting a handshake.
const DefaultGreeting = "XtraLib.Stream.0\nTacview.RealTimeTelemetry.0\nacmi-test-host\n\x00"

// ACMIServer is an in-process Tacview real-time telemetry server. Each
// accepted connection has its handshake read up to the NUL terminator and
// recorded, then receives the greeting and its script.
//
// Connection n replays the n-th script; connections past the last script
// replay the last one.
type ACMIServer struct {
	ln        net.Listener
	greeting  string
	scripts   [][]string
	hold      bool
	lineDelay time.Duration

	mu         sync.Mutex
	handshakes []string
	conns      []net.Conn
	accepted   int

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// ServerOption configures an ACMIServer.
type ServerOption func(*ACMIServer)

// WithScript appends the lines replayed on one connection.
func WithScript(lines ...string) ServerOption {
	return func(s *ACMIServer) {
		s.scripts = append(s.scripts, lines)
	}
}

// WithGreeting replaces DefaultGreeting.
func WithGreeting(greeting string) ServerOption {
	return func(s *ACMIServer) {
		s.greeting = greeting
	}
}

// WithHoldOpen keeps each connection open and silent after its script
// instead of closing it.
func WithHoldOpen() ServerOption {
	return func(s *ACMIServer) {
		s.hold = true
	}
}

// WithLineDelay sleeps between script lines.
func WithLineDelay(d time.Duration) ServerOption {
	return func(s *ACMIServer) {
		s.lineDelay = d
	}
}

// NewACMIServer starts a server on a random loopback port. It is closed on
// t.Cleanup.
func NewACMIServer(t testing.TB, opts ...ServerOption) *ACMIServer {
	return NewACMIServerAt(t, "127.0.0.1:0", opts...)
}

// NewACMIServerAt starts a server on addr.
func NewACMIServerAt(t testing.TB, addr string, opts ...ServerOption) *ACMIServer {
	t.Helper()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("listen %s: %v", addr, err)
	}

	s := &ACMIServer{
		ln:       ln,
		greeting: DefaultGreeting,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// FreeAddr returns a loopback address nothing listens on yet.
func FreeAddr(t testing.TB) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// Addr returns the listen address.
func (s *ACMIServer) Addr() string {
	return s.ln.Addr().String()
}

// Host returns the listen host.
func (s *ACMIServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listen port.
func (s *ACMIServer) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Handshakes returns every handshake received, without the NUL terminator.
func (s *ACMIServer) Handshakes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.handshakes...)
}

// Connections returns how many connections were accepted.
func (s *ACMIServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// DropAll closes every open connection while the server keeps listening.
func (s *ACMIServer) DropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// Close stops the listener and closes every connection.
func (s *ACMIServer) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ln.Close()
		s.DropAll()
		s.wg.Wait()
	})
}

func (s *ACMIServer) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		select {
		case <-s.done:
			s.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		n := s.accepted
		s.accepted++
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn, s.script(n))
		}()
	}
}

func (s *ACMIServer) script(n int) []string {
	if len(s.scripts) == 0 {
		return nil
	}
	if n >= len(s.scripts) {
		n = len(s.scripts) - 1
	}
	return s.scripts[n]
}

func (s *ACMIServer) handle(conn net.Conn, lines []string) {
	defer conn.Close()

	handshake, err := bufio.NewReader(conn).ReadString(0)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.handshakes = append(s.handshakes, strings.TrimSuffix(handshake, "\x00"))
	s.mu.Unlock()

	if _, err := io.WriteString(conn, s.greeting); err != nil {
		return
	}
	for _, line := range lines {
		if s.lineDelay > 0 {
			select {
			case <-s.done:
				return
			case <-time.After(s.lineDelay):
			}
		}
		if _, err := io.WriteString(conn, line+"\n"); err != nil {
			return
		}
	}

	if !s.hold {
		return
	}
	// Wait for the peer or the server to close.
	buf := make([]byte, 64)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
