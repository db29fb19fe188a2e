package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// subscriberQueue is the number of frames buffered per outbound subscriber.
const subscriberQueue = 1024

// Inbound collects frames pushed by any number of connected publishers onto a
// single channel.
type Inbound struct {
	l      Listener
	frames chan []byte
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[Conn]struct{}
}

// BindInbound listens on address and starts accepting publishers.
func BindInbound(ctx context.Context, address string, opts Options, logger *zap.Logger) (*Inbound, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	l, err := Listen(ctx, address, opts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("bind inbound %s: %w", address, err)
	}
	in := &Inbound{
		l:      l,
		frames: make(chan []byte, 64),
		logger: logger.Named("inbound").With(zap.String("addr", l.Addr())),
		cancel: cancel,
		done:   make(chan struct{}),
		conns:  make(map[Conn]struct{}),
	}
	in.wg.Add(1)
	go in.acceptLoop(ctx)
	return in, nil
}

// Frames delivers inbound frames. It is closed by Close.
func (in *Inbound) Frames() <-chan []byte { return in.frames }

// Addr is the bound address URL.
func (in *Inbound) Addr() string { return in.l.Addr() }

func (in *Inbound) acceptLoop(ctx context.Context) {
	defer in.wg.Done()
	for {
		c, err := in.l.Accept(ctx)
		if err != nil {
			return
		}
		in.mu.Lock()
		select {
		case <-in.done:
			in.mu.Unlock()
			_ = c.Close()
			return
		default:
		}
		in.conns[c] = struct{}{}
		in.mu.Unlock()
		in.logger.Debug("publisher connected", zap.String("remote", c.RemoteAddr()))

		in.wg.Add(1)
		go in.read(c)
	}
}

func (in *Inbound) read(c Conn) {
	defer in.wg.Done()
	defer func() {
		in.mu.Lock()
		delete(in.conns, c)
		in.mu.Unlock()
		_ = c.Close()
	}()
	for {
		frame, err := c.Recv()
		if err != nil {
			switch {
			case errors.Is(err, ErrClosed):
				in.logger.Debug("publisher disconnected", zap.String("remote", c.RemoteAddr()))
			case errors.Is(err, ErrFrameTooLarge):
				in.logger.Warn("oversized frame, dropping publisher", zap.String("remote", c.RemoteAddr()))
			default:
				in.logger.Warn("inbound read failed", zap.String("remote", c.RemoteAddr()), zap.Error(err))
			}
			return
		}
		select {
		case in.frames <- frame:
		case <-in.done:
			return
		}
	}
}

// Close stops accepting, disconnects publishers and closes Frames.
func (in *Inbound) Close() error {
	var err error
	in.once.Do(func() {
		close(in.done)
		in.cancel()
		err = in.l.Close()
		in.mu.Lock()
		for c := range in.conns {
			_ = c.Close()
		}
		in.mu.Unlock()
		in.wg.Wait()
		close(in.frames)
	})
	return err
}

// Outbound broadcasts frames to every connected subscriber. Each subscriber
// has its own bounded queue and writer; a subscriber whose queue is full
// misses the frame rather than stalling the publisher.
type Outbound struct {
	l      Listener
	logger *zap.Logger
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	subs   map[*subscriber]struct{}

	dropped atomic.Int64
}

type subscriber struct {
	conn  Conn
	queue chan []byte
	gone  chan struct{}
	once  sync.Once
}

// BindOutbound listens on address and starts accepting subscribers.
func BindOutbound(ctx context.Context, address string, opts Options, logger *zap.Logger) (*Outbound, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	l, err := Listen(ctx, address, opts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("bind outbound %s: %w", address, err)
	}
	o := &Outbound{
		l:      l,
		logger: logger.Named("outbound").With(zap.String("addr", l.Addr())),
		cancel: cancel,
		subs:   make(map[*subscriber]struct{}),
	}
	o.wg.Add(1)
	go o.acceptLoop(ctx)
	return o, nil
}

// Addr is the bound address URL.
func (o *Outbound) Addr() string { return o.l.Addr() }

// Subscribers is the number of connected subscribers.
func (o *Outbound) Subscribers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}

// Dropped is the number of frames a full subscriber queue has missed.
func (o *Outbound) Dropped() int64 { return o.dropped.Load() }

func (o *Outbound) acceptLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		c, err := o.l.Accept(ctx)
		if err != nil {
			return
		}
		s := &subscriber{conn: c, queue: make(chan []byte, subscriberQueue), gone: make(chan struct{})}
		// The empty hello frame tells Subscribe the registration is live.
		s.queue <- []byte{}

		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			_ = c.Close()
			return
		}
		o.subs[s] = struct{}{}
		o.mu.Unlock()
		o.logger.Debug("subscriber connected", zap.String("remote", c.RemoteAddr()))

		o.wg.Add(2)
		go o.write(s)
		go o.watch(s)
	}
}

// Publish queues frame for every subscriber and reports how many accepted it.
func (o *Outbound) Publish(frame []byte) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0
	}
	n := 0
	for s := range o.subs {
		select {
		case s.queue <- frame:
			n++
		default:
			o.dropped.Add(1)
			o.logger.Warn("subscriber queue full, frame dropped", zap.String("remote", s.conn.RemoteAddr()))
		}
	}
	return n
}

func (o *Outbound) write(s *subscriber) {
	defer o.wg.Done()
	for {
		select {
		case frame, ok := <-s.queue:
			if !ok {
				o.drop(s)
				return
			}
			if err := s.conn.Send(frame); err != nil {
				if !errors.Is(err, ErrClosed) {
					o.logger.Warn("outbound write failed", zap.String("remote", s.conn.RemoteAddr()), zap.Error(err))
				}
				o.drop(s)
				return
			}
		case <-s.gone:
			return
		}
	}
}

// watch reads from the subscriber only to notice it leaving.
func (o *Outbound) watch(s *subscriber) {
	defer o.wg.Done()
	for {
		if _, err := s.conn.Recv(); err != nil {
			o.drop(s)
			return
		}
	}
}

func (o *Outbound) drop(s *subscriber) {
	s.once.Do(func() {
		o.mu.Lock()
		delete(o.subs, s)
		o.mu.Unlock()
		close(s.gone)
		_ = s.conn.Close()
		o.logger.Debug("subscriber disconnected", zap.String("remote", s.conn.RemoteAddr()))
	})
}

// Close stops accepting, flushes every subscriber queue and disconnects.
func (o *Outbound) Close() error {
	var err error
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		for s := range o.subs {
			close(s.queue)
		}
		o.mu.Unlock()
		o.cancel()
		err = o.l.Close()
		o.wg.Wait()
	})
	return err
}

// Subscribe dials an outbound endpoint and returns once the subscription is
// registered, so no later frame is missed.
func Subscribe(ctx context.Context, address string, opts Options) (Conn, error) {
	c, err := Dial(ctx, address, opts)
	if err != nil {
		return nil, err
	}
	type result struct {
		frame []byte
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := c.Recv()
		ch <- result{f, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			_ = c.Close()
			return nil, r.err
		}
		if len(r.frame) != 0 {
			_ = c.Close()
			return nil, errors.New("transport: unexpected frame before subscription")
		}
		return c, nil
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}
