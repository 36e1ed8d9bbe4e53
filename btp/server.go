package btp

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// OnConnect is invoked once a newly accepted connection has completed the
// auth handshake. It returns the RequestHandler to install for that
// connection's inbound Messages going forward.
type OnConnect func(peerID string, conn *Conn) RequestHandler

// Server accepts inbound BTP WebSocket connections and authenticates each
// one against an Authenticator before handing it off.
type Server struct {
	Auth              Authenticator
	OnConnect         OnConnect
	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration
	HandshakeTimeout  time.Duration
	Log               *logrus.Entry

	upgrader websocket.Upgrader
}

// ServeHTTP implements http.Handler, upgrading the request to a
// WebSocket and running the auth handshake before accepting application
// traffic.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := s.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("btp upgrade failed")
		return
	}

	handshakeTimeout := s.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		log.WithError(err).Warn("btp handshake read failed")
		ws.Close()
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	frame, err := Decode(data)
	if err != nil || frame.Type != TypeMessage {
		log.Warn("btp handshake frame malformed")
		ws.Close()
		return
	}
	token, _ := frame.AuthPayload() // a missing auth sub-protocol reads as an empty token
	peerID, authed := "", false
	if s.Auth != nil {
		peerID, authed = s.Auth.Authenticate(string(token))
	}
	if !authed {
		_ = ws.WriteMessage(websocket.BinaryMessage, Encode(Frame{
			Type:      TypeError,
			RequestID: frame.RequestID,
			SubProtocols: []SubProtocolData{
				{ProtocolName: "error", Payload: []byte(ErrAuthRejected.Error())},
			},
		}))
		ws.Close()
		return
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, Encode(Frame{
		Type:      TypeResponse,
		RequestID: frame.RequestID,
	})); err != nil {
		ws.Close()
		return
	}

	conn := NewConn(ws, nil, s.KeepaliveInterval, s.IdleTimeout)
	if s.OnConnect != nil {
		conn.SetHandler(s.OnConnect(peerID, conn))
	}
	log.WithField("peer", peerID).Info("btp peer connected")
}
