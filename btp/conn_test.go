package btp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, handler RequestHandler) (*Conn, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- NewConn(ws, handler, 0, 0)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientWS, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewConn(clientWS, nil, 0, 0)
	server := <-connCh

	return client, func() {
		client.Close()
		server.Close()
		srv.Close()
	}
}

func TestSendRequestRoundTrip(t *testing.T) {
	client, cleanup := newTestServer(t, func(req Frame) Frame {
		payload, _ := req.ILPPayload()
		echoed := append([]byte{}, payload...)
		return Frame{Type: TypeResponse, SubProtocols: []SubProtocolData{
			{ProtocolName: SubProtocolILP, Payload: echoed},
		}}
	})
	defer cleanup()

	resp, err := client.SendRequest([]SubProtocolData{
		{ProtocolName: SubProtocolILP, Payload: []byte{9, 8, 7}},
	}, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("sendRequest: %v", err)
	}
	payload, ok := resp.ILPPayload()
	if !ok || string(payload) != string([]byte{9, 8, 7}) {
		t.Fatalf("unexpected response payload: %v", payload)
	}
}

func TestSendRequestTimeout(t *testing.T) {
	client, cleanup := newTestServer(t, func(req Frame) Frame {
		time.Sleep(200 * time.Millisecond)
		return Frame{Type: TypeResponse}
	})
	defer cleanup()

	_, err := client.SendRequest(nil, time.Now().Add(20*time.Millisecond))
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSendRequestPeerError(t *testing.T) {
	client, cleanup := newTestServer(t, func(req Frame) Frame {
		return Frame{Type: TypeError, SubProtocols: []SubProtocolData{
			{ProtocolName: "error", Payload: []byte("no route")},
		}}
	})
	defer cleanup()

	_, err := client.SendRequest(nil, time.Now().Add(2*time.Second))
	if err == nil || err.Error() != "btp: peer error: no route" {
		t.Fatalf("expected peer error, got %v", err)
	}
}

func TestSendRequestAfterCloseFailsWithConnectionLost(t *testing.T) {
	client, cleanup := newTestServer(t, func(req Frame) Frame {
		return Frame{Type: TypeResponse}
	})
	defer cleanup()

	client.Close()
	_, err := client.SendRequest(nil, time.Now().Add(time.Second))
	if err != ErrConnectionLost {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}
