package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Endpoints carry service traffic, not browser sessions.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn carries one frame per binary WebSocket message.
type wsConn struct {
	mu   sync.Mutex
	c    *websocket.Conn
	opts Options
}

func newWSConn(c *websocket.Conn, opts Options) *wsConn {
	c.SetReadLimit(int64(opts.MaxFrameBytes))
	return &wsConn{c: c, opts: opts}
}

func (w *wsConn) Send(frame []byte) error {
	if len(frame) > w.opts.MaxFrameBytes {
		return ErrFrameTooLarge
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout))
	return wsErr(w.c.WriteMessage(websocket.BinaryMessage, frame))
}

func (w *wsConn) Recv() ([]byte, error) {
	for {
		kind, data, err := w.c.ReadMessage()
		if err != nil {
			return nil, wsErr(err)
		}
		if kind == websocket.BinaryMessage || kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (w *wsConn) RemoteAddr() string { return w.c.RemoteAddr().String() }

func (w *wsConn) Close() error {
	w.mu.Lock()
	_ = w.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.mu.Unlock()
	return w.c.Close()
}

func wsErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return ErrFrameTooLarge
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) || errors.Is(err, websocket.ErrCloseSent) {
		return ErrClosed
	}
	return wrapClosed(err)
}

type wsListener struct {
	l     net.Listener
	srv   *http.Server
	path  string
	opts  Options
	newCh chan Conn
	done  chan struct{}
	once  sync.Once
}

func listenWS(ctx context.Context, u *url.URL, opts Options) (*wsListener, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", u.Host)
	if err != nil {
		return nil, err
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	wl := &wsListener{l: l, path: path, opts: opts, newCh: make(chan Conn, 8), done: make(chan struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc(path, wl.upgrade)
	wl.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = wl.srv.Serve(l) }()
	go func() {
		select {
		case <-ctx.Done():
			_ = wl.Close()
		case <-wl.done:
		}
	}()
	return wl, nil
}

func (l *wsListener) upgrade(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.newCh <- newWSConn(c, l.opts):
	case <-l.done:
		_ = c.Close()
	}
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrClosed
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *wsListener) Addr() string { return "ws://" + l.l.Addr().String() + l.path }

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

func dialWS(ctx context.Context, u *url.URL, opts Options) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return newWSConn(c, opts), nil
}
