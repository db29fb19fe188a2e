// Package transport provides the two pub/sub endpoints the router binds: an
// inbound endpoint that any number of publishers push request frames into, and
// an outbound endpoint that broadcasts result frames to every subscriber.
//
// Endpoints are addressed by URL. Supported schemes:
//   - tcp://host:port    length-prefixed frames (u32 LE) over TCP
//   - ws://host:port/path binary WebSocket messages
//   - mem://name         in-process pipes, for tests and embedded use
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxFrameBytes bounds a single frame when no limit is configured.
const DefaultMaxFrameBytes = 1 << 20

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 5 * time.Second

// ErrClosed is returned by operations on a closed endpoint or connection.
var ErrClosed = errors.New("transport: closed")

// ErrFrameTooLarge is returned when a frame exceeds the configured limit.
var ErrFrameTooLarge = errors.New("transport: frame too large")

// Conn is a framed, bidirectional connection. Send is safe for concurrent
// use; Recv must be called from a single goroutine.
type Conn interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	RemoteAddr() string
	Close() error
}

// Listener accepts framed connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// Options tune connections created by Listen and Dial.
type Options struct {
	MaxFrameBytes int
	WriteTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}

// Listen binds a listener for the address URL.
func Listen(ctx context.Context, address string, opts Options) (Listener, error) {
	u, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	switch u.Scheme {
	case "tcp":
		return listenTCP(ctx, u.Host, opts)
	case "ws":
		return listenWS(ctx, u, opts)
	case "mem":
		return listenMem(ctx, memName(u), opts)
	default:
		return nil, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
}

// Dial connects to a listener at the address URL.
func Dial(ctx context.Context, address string, opts Options) (Conn, error) {
	u, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	switch u.Scheme {
	case "tcp":
		return dialTCP(ctx, u.Host, opts)
	case "ws":
		return dialWS(ctx, u, opts)
	case "mem":
		return dialMem(ctx, memName(u), opts)
	default:
		return nil, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
}

func parseAddress(address string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return nil, fmt.Errorf("transport: invalid address %q: %w", address, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "" {
		return nil, fmt.Errorf("transport: address %q has no scheme", address)
	}
	if u.Scheme != "mem" && u.Host == "" {
		return nil, fmt.Errorf("transport: address %q has no host", address)
	}
	return u, nil
}

// memName accepts both mem://name and mem:name.
func memName(u *url.URL) string {
	if u.Host != "" {
		return u.Host + u.Path
	}
	return u.Opaque
}
