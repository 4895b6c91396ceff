// Package transport provides the UDP transport layer the sender runs over: a
// single connected socket to one peer, with a pluggable pacer and pooled
// receive buffers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultReadBufferSize is the default OS-level UDP read buffer size.
	DefaultReadBufferSize = 2 * 1024 * 1024 // 2MB

	// DefaultWriteBufferSize is the default OS-level UDP write buffer size.
	DefaultWriteBufferSize = 2 * 1024 * 1024 // 2MB

	// DefaultReadTimeout is used when a caller does not override the
	// per-receive timeout and never changes it.
	DefaultReadTimeout = 1 * time.Second
)

// ErrClosed is returned by Send/Receive once Close has been called.
var ErrClosed = errors.New("transport: connection closed")

// ErrTimeout is returned by Receive when the read deadline elapses without a
// datagram arriving.
var ErrTimeout = errors.New("transport: receive timeout")

// Statistics holds cumulative connection counters.
type Statistics struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	Errors          uint64
}

// Config configures a Conn.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	ReadTimeout     time.Duration

	// PacerRateBytesPerSec, when non-zero, smooths outgoing sends through a
	// token-bucket limiter instead of writing at wire speed. This never
	// changes what the congestion engine decides to send, only when the
	// write syscall for it happens — the windowing semantics stay exactly
	// what the engine computed.
	PacerRateBytesPerSec int
	PacerBurstBytes      int
}

// DefaultConfig returns the zero-value-safe default configuration: OS buffer
// sizing per the teacher's values, no pacer.
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
		ReadTimeout:     DefaultReadTimeout,
	}
}

// Conn is a UDP socket connected to exactly one remote peer.
type Conn struct {
	udpConn    *net.UDPConn
	localAddr  *net.UDPAddr
	remoteAddr *net.UDPAddr

	defaultTimeout time.Duration
	pacer          *rate.Limiter

	bufPool *bufferPool

	mu     sync.RWMutex
	closed bool
	stats  Statistics
}

// Dial opens a UDP socket connected to address.
func Dial(network, address string, config *Config) (*Conn, error) {
	if config == nil {
		config = DefaultConfig()
	}

	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve address: %w", err)
	}

	udpConn, err := net.DialUDP(network, nil, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}

	if config.ReadBufferSize > 0 {
		if err := udpConn.SetReadBuffer(config.ReadBufferSize); err != nil {
			udpConn.Close()
			return nil, fmt.Errorf("transport: set read buffer: %w", err)
		}
	}
	if config.WriteBufferSize > 0 {
		if err := udpConn.SetWriteBuffer(config.WriteBufferSize); err != nil {
			udpConn.Close()
			return nil, fmt.Errorf("transport: set write buffer: %w", err)
		}
	}

	timeout := config.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	var pacer *rate.Limiter
	if config.PacerRateBytesPerSec > 0 {
		burst := config.PacerBurstBytes
		if burst <= 0 {
			burst = config.PacerRateBytesPerSec
		}
		pacer = rate.NewLimiter(rate.Limit(config.PacerRateBytesPerSec), burst)
	}

	return &Conn{
		udpConn:        udpConn,
		localAddr:      udpConn.LocalAddr().(*net.UDPAddr),
		remoteAddr:     addr,
		defaultTimeout: timeout,
		pacer:          pacer,
		bufPool:        newBufferPool(),
	}, nil
}

// Send writes data to the connected peer, blocking on the pacer (if
// configured) before the syscall.
func (c *Conn) Send(data []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	c.mu.RUnlock()

	if c.pacer != nil {
		if err := c.pacer.WaitN(context.Background(), len(data)); err != nil {
			return fmt.Errorf("transport: pacer wait: %w", err)
		}
	}

	n, err := c.udpConn.Write(data)
	if err != nil {
		c.mu.Lock()
		c.stats.Errors++
		c.mu.Unlock()
		return fmt.Errorf("transport: send: %w", err)
	}

	c.mu.Lock()
	c.stats.PacketsSent++
	c.stats.BytesSent += uint64(n)
	c.mu.Unlock()
	return nil
}

// Receive blocks for up to timeout (or the connection's default timeout, if
// timeout is 0) for one datagram.
func (c *Conn) Receive(timeout time.Duration) ([]byte, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClosed
	}
	c.mu.RUnlock()

	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	if err := c.udpConn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("transport: set read deadline: %w", err)
	}

	buf := c.bufPool.Get()
	n, err := c.udpConn.Read(buf)
	if err != nil {
		c.bufPool.Put(buf)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrTimeout
		}
		c.mu.Lock()
		c.stats.Errors++
		c.mu.Unlock()
		return nil, fmt.Errorf("transport: receive: %w", err)
	}

	out := make([]byte, n)
	copy(out, buf[:n])
	c.bufPool.Put(buf)

	c.mu.Lock()
	c.stats.PacketsReceived++
	c.stats.BytesReceived += uint64(n)
	c.mu.Unlock()

	return out, nil
}

// SetDefaultTimeout changes the timeout Receive uses when called with
// timeout=0.
func (c *Conn) SetDefaultTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultTimeout = timeout
}

// LocalAddr returns the local socket address.
func (c *Conn) LocalAddr() *net.UDPAddr { return c.localAddr }

// RemoteAddr returns the connected peer's address.
func (c *Conn) RemoteAddr() *net.UDPAddr { return c.remoteAddr }

// Statistics returns a copy of the connection's cumulative counters.
func (c *Conn) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.udpConn.Close()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
