package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/logging"
	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
)

const (
	writeWait   = 10 * time.Second
	logoutWait  = 2 * time.Second
	frameBuffer = 256
)

// ErrClosed is the terminal error of a connection closed by Close.
var ErrClosed = errors.New("transport: connection closed")

type connOptions struct {
	host      string
	client    *http.Client
	baseURL   string
	xsrf      string
	heartbeat time.Duration
	queueSize int
}

type outbound struct {
	data   []byte
	result chan error
}

// Conn is one authenticated CresNext WebSocket. Sends are serialized
// through a single writer goroutine; received frames are delivered on
// Frames until the socket dies.
type Conn struct {
	opts connOptions
	ws   *websocket.Conn

	frames chan Frame
	sendq  chan outbound
	done   chan struct{}

	errMu sync.Mutex
	err   error

	shutdownOnce sync.Once
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

func newConn(ws *websocket.Conn, opts connOptions) *Conn {
	if opts.heartbeat == 0 {
		opts.heartbeat = DefaultHeartbeatInterval
	}
	if opts.queueSize <= 0 {
		opts.queueSize = DefaultSendQueueSize
	}
	c := &Conn{
		opts:   opts,
		ws:     ws,
		frames: make(chan Frame, frameBuffer),
		sendq:  make(chan outbound, opts.queueSize),
		done:   make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		c.deliver(Frame{Kind: FrameHeartbeat, At: time.Now()})
		return nil
	})

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Frames returns the receive stream. It is closed when the connection
// ends; Err then reports why.
func (c *Conn) Frames() <-chan Frame { return c.frames }

// Done is closed when the connection has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the terminal error, or nil while the connection is alive.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Host returns the device host.
func (c *Conn) Host() string { return c.opts.host }

// Send writes one text frame. Frames are written in the order Send is
// called. It returns once the frame has been written.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	ob := outbound{data: data, result: make(chan error, 1)}
	select {
	case c.sendq <- ob:
	case <-c.done:
		return c.goneError()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ob.result:
		return err
	case <-c.done:
		return c.goneError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) goneError() error {
	return naxerr.NewNetworkError("connection is closed", c.Err())
}

// Close logs out (best effort), releases the socket and waits for the
// I/O goroutines. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		select {
		case <-c.done:
		default:
			c.logout()
		}
		c.shutdown(ErrClosed)
		c.wg.Wait()
		logging.LogConnection(c.opts.host, "websocket_closed")
	})
	return nil
}

func (c *Conn) logout() {
	if c.opts.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), logoutWait)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.baseURL+logoutPath, nil)
	if err != nil {
		return
	}
	req.Header.Set(xsrfEchoHeader, c.opts.xsrf)
	resp, err := c.opts.client.Do(req)
	if err != nil {
		logging.Debug("Logout failed", zap.String("host", c.opts.host), zap.Error(err))
		return
	}
	drain(resp)
}

func (c *Conn) shutdown(err error) {
	c.shutdownOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		if errors.Is(err, ErrClosed) {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}
		_ = c.ws.Close()
	})
}

// deliver hands a frame to the consumer unless the connection is ending.
// Only called from the read goroutine.
func (c *Conn) deliver(f Frame) {
	select {
	case c.frames <- f:
	case <-c.done:
	}
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.frames)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn("WebSocket read error", zap.String("host", c.opts.host), zap.Error(err))
			} else {
				logging.Debug("WebSocket closed", zap.String("host", c.opts.host), zap.Error(err))
			}
			c.shutdown(naxerr.NewNetworkError("connection lost", err))
			return
		}
		logging.LogWebSocketMessage(c.opts.host, "received", msgType, data)
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.deliver(Frame{Kind: FrameData, Data: data, At: time.Now()})
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()

	var tick <-chan time.Time
	if c.opts.heartbeat > 0 {
		ticker := time.NewTicker(c.opts.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case ob := <-c.sendq:
			//nolint:errcheck // write error caught below
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.TextMessage, ob.data)
			if err != nil {
				nerr := naxerr.NewNetworkError("write failed", err)
				ob.result <- nerr
				c.shutdown(nerr)
				return
			}
			logging.LogWebSocketMessage(c.opts.host, "sent", websocket.TextMessage, ob.data)
			ob.result <- nil

		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shutdown(naxerr.NewNetworkError("ping failed", err))
				return
			}

		case <-c.done:
			return
		}
	}
}
