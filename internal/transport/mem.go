package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// memRegistry holds the mem:// listeners of this process.
var memRegistry = struct {
	sync.Mutex
	listeners map[string]*memListener
}{listeners: make(map[string]*memListener)}

type memListener struct {
	name  string
	opts  Options
	newCh chan Conn
	done  chan struct{}
	once  sync.Once
}

func listenMem(ctx context.Context, name string, opts Options) (*memListener, error) {
	memRegistry.Lock()
	defer memRegistry.Unlock()
	if _, ok := memRegistry.listeners[name]; ok {
		return nil, fmt.Errorf("transport: mem listener %q already exists", name)
	}
	l := &memListener{name: name, opts: opts, newCh: make(chan Conn, 8), done: make(chan struct{})}
	memRegistry.listeners[name] = l
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-l.done:
		}
	}()
	return l, nil
}

func dialMem(ctx context.Context, name string, opts Options) (Conn, error) {
	memRegistry.Lock()
	l := memRegistry.listeners[name]
	memRegistry.Unlock()
	if l == nil {
		return nil, fmt.Errorf("transport: no mem listener %q", name)
	}

	c1, c2 := net.Pipe()
	select {
	case l.newCh <- newStreamConn(c1, l.opts):
		return newStreamConn(c2, opts), nil
	case <-l.done:
	case <-ctx.Done():
	}
	_ = c1.Close()
	_ = c2.Close()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrClosed
}

func (l *memListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrClosed
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *memListener) Addr() string { return "mem://" + l.name }

func (l *memListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		memRegistry.Lock()
		if memRegistry.listeners[l.name] == l {
			delete(memRegistry.listeners, l.name)
		}
		memRegistry.Unlock()
	})
	return nil
}
