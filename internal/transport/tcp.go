package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// streamConn frames a byte stream with a u32 little-endian length prefix.
// It backs both the tcp and mem schemes.
type streamConn struct {
	mu   sync.Mutex
	c    net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	opts Options
}

func newStreamConn(c net.Conn, opts Options) *streamConn {
	return &streamConn{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c), opts: opts}
}

func (s *streamConn) Send(frame []byte) error {
	if len(frame) > s.opts.MaxFrameBytes {
		return ErrFrameTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.c.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(frame)))
	if _, err := s.bw.Write(lenbuf[:]); err != nil {
		return wrapClosed(err)
	}
	if _, err := s.bw.Write(frame); err != nil {
		return wrapClosed(err)
	}
	return wrapClosed(s.bw.Flush())
}

func (s *streamConn) Recv() ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(s.br, lenbuf[:]); err != nil {
		return nil, wrapClosed(err)
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n < 0 || n > s.opts.MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.br, buf); err != nil {
		return nil, wrapClosed(err)
	}
	return buf, nil
}

func (s *streamConn) RemoteAddr() string { return s.c.RemoteAddr().String() }
func (s *streamConn) Close() error       { return s.c.Close() }

// wrapClosed maps the ways a peer can go away onto ErrClosed.
func wrapClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	return err
}

type tcpListener struct {
	l     net.Listener
	opts  Options
	newCh chan Conn
	done  chan struct{}
	once  sync.Once
}

func listenTCP(ctx context.Context, hostport string, opts Options) (*tcpListener, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", hostport)
	if err != nil {
		return nil, err
	}
	tl := &tcpListener{l: l, opts: opts, newCh: make(chan Conn, 8), done: make(chan struct{})}
	go tl.acceptLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = tl.Close()
		case <-tl.done:
		}
	}()
	return tl, nil
}

func (l *tcpListener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		select {
		case l.newCh <- newStreamConn(c, l.opts):
		case <-l.done:
			_ = c.Close()
			return
		}
	}
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrClosed
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *tcpListener) Addr() string { return "tcp://" + l.l.Addr().String() }

func (l *tcpListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.l.Close()
	})
	return err
}

func dialTCP(ctx context.Context, hostport string, opts Options) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, err
	}
	return newStreamConn(c, opts), nil
}
