package btp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// RequestHandler processes an inbound Message frame and returns the
// Response or Error frame to send back. The RequestID is filled in by the
// Conn; the handler need not set it. Handlers run concurrently, one
// goroutine per inbound request, so multiple requests may be in flight in
// either direction simultaneously.
type RequestHandler func(req Frame) Frame

// Conn is one multiplexed BTP connection: a WebSocket socket plus a
// request-correlation table keyed by request ID. The zero value is not
// usable; construct with NewConn.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	nextID uint32 // atomic; incremented before use so 0 is reserved for pings

	mu              sync.Mutex
	pending         map[uint32]chan Frame
	inboundInFlight map[uint32]struct{}
	lastRead        time.Time

	handlerMu sync.Mutex
	handler   RequestHandler

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an established WebSocket connection. handler may be nil if
// this side never expects inbound Message frames (e.g. a client-only
// leaf). idleTimeout of zero disables the keepalive/idle-disconnect loop.
func NewConn(ws *websocket.Conn, handler RequestHandler, keepaliveInterval, idleTimeout time.Duration) *Conn {
	c := &Conn{
		ws:              ws,
		pending:         make(map[uint32]chan Frame),
		inboundInFlight: make(map[uint32]struct{}),
		lastRead:        time.Now(),
		handler:         handler,
		closed:          make(chan struct{}),
	}
	go c.readLoop()
	if idleTimeout > 0 {
		go c.keepaliveLoop(keepaliveInterval, idleTimeout)
	}
	return c
}

// SetHandler installs or replaces the handler for inbound Message
// frames. Safe to call concurrently with readLoop.
func (c *Conn) SetHandler(h RequestHandler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

// Done returns a channel closed once the connection has terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Err returns the reason the connection closed, or nil if it is still
// open.
func (c *Conn) Err() error {
	select {
	case <-c.closed:
		return c.closeErr
	default:
		return nil
	}
}

// SendRequest issues a Message frame carrying subs and waits for the
// correlated Response or Error frame, failing with ErrTimeout if deadline
// elapses first or ErrConnectionLost if the socket closes meanwhile.
func (c *Conn) SendRequest(subs []SubProtocolData, deadline time.Time) (Frame, error) {
	id := atomic.AddUint32(&c.nextID, 1)
	ch := make(chan Frame, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	frame := Frame{Type: TypeMessage, RequestID: id, SubProtocols: subs}
	if err := c.writeFrame(frame); err != nil {
		c.removePending(id)
		return Frame{}, ErrConnectionLost
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Type == TypeError {
			msg, _ := resp.subProtocol("error")
			return resp, &PeerError{Message: string(msg)}
		}
		return resp, nil
	case <-timer.C:
		c.removePending(id)
		return Frame{}, ErrTimeout
	case <-c.closed:
		return Frame{}, c.closeErr
	}
}

func (c *Conn) removePending(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close terminates the connection and fails every outstanding request
// with ErrConnectionLost.
func (c *Conn) Close() error {
	c.closeWithError(ErrConnectionLost)
	return nil
}

func (c *Conn) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, Encode(f))
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.closeWithError(ErrConnectionLost)
			return
		}
		c.mu.Lock()
		c.lastRead = time.Now()
		c.mu.Unlock()

		frame, err := Decode(data)
		if err != nil {
			continue // drop one malformed frame; the connection stays usable
		}

		switch frame.Type {
		case TypeResponse, TypeError:
			c.mu.Lock()
			ch, ok := c.pending[frame.RequestID]
			if ok {
				delete(c.pending, frame.RequestID)
			}
			c.mu.Unlock()
			if ok {
				ch <- frame
			}
		case TypeMessage:
			if frame.RequestID == 0 {
				continue // unsolicited keepalive ping, no response expected
			}
			c.handleInbound(frame)
		}
	}
}

func (c *Conn) handleInbound(frame Frame) {
	c.handlerMu.Lock()
	handler := c.handler
	c.handlerMu.Unlock()
	if handler == nil {
		return
	}
	c.mu.Lock()
	if _, inFlight := c.inboundInFlight[frame.RequestID]; inFlight {
		c.mu.Unlock()
		_ = c.writeFrame(Frame{
			Type:      TypeError,
			RequestID: frame.RequestID,
			SubProtocols: []SubProtocolData{
				{ProtocolName: "error", Payload: []byte(ErrDuplicateRequest.Error())},
			},
		})
		return
	}
	c.inboundInFlight[frame.RequestID] = struct{}{}
	c.mu.Unlock()

	go func() {
		resp := handler(frame)
		resp.RequestID = frame.RequestID
		_ = c.writeFrame(resp)

		c.mu.Lock()
		delete(c.inboundInFlight, frame.RequestID)
		c.mu.Unlock()
	}()
}

func (c *Conn) keepaliveLoop(interval, idleTimeout time.Duration) {
	if interval <= 0 {
		interval = idleTimeout / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			last := c.lastRead
			c.mu.Unlock()
			if time.Since(last) > idleTimeout {
				c.closeWithError(ErrConnectionLost)
				return
			}
			_ = c.writeFrame(Frame{Type: TypeMessage, RequestID: 0})
		case <-c.closed:
			return
		}
	}
}
