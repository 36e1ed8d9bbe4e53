package btp

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DialOptions configures an outbound BTP connection.
type DialOptions struct {
	URL               string
	AuthToken         string
	Handler           RequestHandler
	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration
	DialTimeout       time.Duration
}

// Dial opens a single BTP connection to url and performs the auth
// handshake, sending AuthToken on sub-protocol "auth" as the first
// Message. It returns once the peer has acknowledged with a Response.
func Dial(ctx context.Context, opts DialOptions) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	ws, _, err := dialer.DialContext(ctx, opts.URL, http.Header{})
	if err != nil {
		return nil, err
	}
	conn := NewConn(ws, opts.Handler, opts.KeepaliveInterval, opts.IdleTimeout)

	deadline := time.Now().Add(dialer.HandshakeTimeout)
	resp, err := conn.SendRequest([]SubProtocolData{
		{ProtocolName: SubProtocolAuth, Payload: []byte(opts.AuthToken)},
	}, deadline)
	if err != nil {
		conn.Close()
		var peerErr *PeerError
		if errors.As(err, &peerErr) {
			return nil, ErrAuthRejected
		}
		return nil, err
	}
	if resp.Type == TypeError {
		conn.Close()
		return nil, ErrAuthRejected
	}
	return conn, nil
}

// ReconnectingClient keeps a BTP connection to one peer alive, redialing
// with exponential backoff and jitter whenever the underlying socket
// drops. Callers obtain the current live connection via Current; it
// returns nil while a redial is in progress.
type ReconnectingClient struct {
	opts DialOptions

	backoffBase time.Duration
	backoffCap  time.Duration

	log *logrus.Entry

	connCh chan *Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconnectingClient starts the redial loop in the background. Call
// Stop to terminate it.
func NewReconnectingClient(opts DialOptions, backoffBase, backoffCap time.Duration, log *logrus.Entry) *ReconnectingClient {
	if backoffBase <= 0 {
		backoffBase = 200 * time.Millisecond
	}
	if backoffCap <= 0 {
		backoffCap = 30 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	rc := &ReconnectingClient{
		opts:        opts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		log:         log,
		connCh:      make(chan *Conn, 1),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go rc.run(ctx)
	return rc
}

// Current returns the presently live connection, or nil if none is
// connected right now.
func (rc *ReconnectingClient) Current() *Conn {
	select {
	case c := <-rc.connCh:
		if c != nil {
			rc.connCh <- c
		}
		return c
	default:
		return nil
	}
}

// Stop halts the redial loop and closes the live connection, if any.
func (rc *ReconnectingClient) Stop() {
	rc.cancel()
	<-rc.done
}

func (rc *ReconnectingClient) run(ctx context.Context) {
	defer close(rc.done)
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			if c := rc.Current(); c != nil {
				c.Close()
			}
			return
		default:
		}

		conn, err := Dial(ctx, rc.opts)
		if err != nil {
			rc.log.WithError(err).WithField("url", rc.opts.URL).Warn("btp dial failed, backing off")
			if !rc.sleepBackoff(ctx, attempt) {
				return
			}
			attempt++
			continue
		}
		attempt = 0
		rc.setCurrent(conn)
		rc.log.WithField("url", rc.opts.URL).Info("btp connected")

		select {
		case <-conn.Done():
			rc.log.WithError(conn.Err()).WithField("url", rc.opts.URL).Warn("btp connection lost, reconnecting")
			rc.setCurrent(nil)
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func (rc *ReconnectingClient) setCurrent(c *Conn) {
	select {
	case old := <-rc.connCh:
		if old != nil && old != c {
			old.Close()
		}
	default:
	}
	rc.connCh <- c
}

func (rc *ReconnectingClient) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := rc.backoffBase << uint(attempt)
	if delay <= 0 || delay > rc.backoffCap {
		delay = rc.backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	timer := time.NewTimer(delay/2 + jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
