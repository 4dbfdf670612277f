package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/parlolabs/parlo-core/internal/bus"
	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/natsserver"
	"github.com/parlolabs/parlo-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	busCfg := config.BusConfig{
		Embedded:       true,
		Port:           -1,
		StoreDir:       t.TempDir(),
		ConnectTimeout: 2000,
	}
	srv, err := natsserver.Start(busCfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	busCfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), busCfg, newLogger())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func startGateway(t *testing.T, client *bus.Client, cfg config.GatewayConfig) (*Service, *httptest.Server) {
	t.Helper()
	gw := NewService(cfg, client, newLogger())
	if err := gw.Start(); err != nil {
		t.Fatalf("start gateway: %v", err)
	}
	t.Cleanup(gw.Close)

	ts := httptest.NewServer(gw.Handler())
	t.Cleanup(ts.Close)
	return gw, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitForClients(t *testing.T, gw *Service, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if gw.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d clients, have %d", want, gw.ClientCount())
}

func readEnvelope(t *testing.T, ws *websocket.Conn, wantType string) Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			t.Fatalf("read envelope: %v", err)
		}
		if env.Type == wantType {
			return env
		}
	}
	t.Fatalf("no %q envelope arrived", wantType)
	return Envelope{}
}

func TestControlEnvelopeReachesBus(t *testing.T) {
	client := startBus(t)
	gw, ts := startGateway(t, client, config.GatewayConfig{Enabled: true, Path: "/ws"})
	ws := dial(t, ts)
	waitForClients(t, gw, 1)

	listenSub, err := client.Conn().SubscribeSync(protocol.SubjectListenStart)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	speakSub, err := client.Conn().SubscribeSync(protocol.SubjectSpeak)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := ws.WriteJSON(Envelope{Type: "listen.start"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := listenSub.NextMsg(2 * time.Second); err != nil {
		t.Fatalf("listen.start never reached the bus: %v", err)
	}

	payload, _ := json.Marshal(protocol.SpeakRequest{Text: "hello"})
	if err := ws.WriteJSON(Envelope{Type: "speak", Payload: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg, err := speakSub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("speak never reached the bus: %v", err)
	}
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		t.Fatalf("decode forwarded speak: %v", err)
	}
	if req.Text != "hello" {
		t.Fatalf("payload not forwarded intact: %+v", req)
	}
}

func TestEventFanout(t *testing.T) {
	client := startBus(t)
	gw, ts := startGateway(t, client, config.GatewayConfig{Enabled: true, Path: "/ws"})
	first := dial(t, ts)
	second := dial(t, ts)
	waitForClients(t, gw, 2)

	state := protocol.SessionState{State: "speaking", ActiveID: "u1", Timestamp: time.Now().UTC()}
	data, _ := json.Marshal(state)
	if err := client.Publish(protocol.SubjectSessionState, data); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, ws := range []*websocket.Conn{first, second} {
		env := readEnvelope(t, ws, protocol.SubjectSessionState)
		var got protocol.SessionState
		if err := json.Unmarshal(env.Payload, &got); err != nil {
			t.Fatalf("decode fanned-out state: %v", err)
		}
		if got.State != "speaking" || got.ActiveID != "u1" {
			t.Fatalf("unexpected state: %+v", got)
		}
	}
}

func TestRequestReplyCorrelation(t *testing.T) {
	client := startBus(t)
	gw, ts := startGateway(t, client, config.GatewayConfig{Enabled: true, Path: "/ws"})
	ws := dial(t, ts)
	waitForClients(t, gw, 1)

	_, err := client.Conn().Subscribe(protocol.SubjectSuggestRequest, func(m *nats.Msg) {
		resp := protocol.SuggestResponse{Source: "phrasebook", Category: "food", Phrases: []string{"I'm hungry"}}
		data, _ := json.Marshal(resp)
		_ = m.Respond(data)
	})
	if err != nil {
		t.Fatalf("subscribe responder: %v", err)
	}

	payload, _ := json.Marshal(protocol.SuggestRequest{Category: "food"})
	if err := ws.WriteJSON(Envelope{Type: "suggest", ID: "42", Payload: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readEnvelope(t, ws, "suggest.response")
	if env.ID != "42" {
		t.Fatalf("reply not correlated, id=%q", env.ID)
	}
	var resp protocol.SuggestResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if len(resp.Phrases) != 1 || resp.Phrases[0] != "I'm hungry" {
		t.Fatalf("unexpected reply: %+v", resp)
	}
}

func TestUnknownTypeGetsError(t *testing.T) {
	client := startBus(t)
	gw, ts := startGateway(t, client, config.GatewayConfig{Enabled: true, Path: "/ws"})
	ws := dial(t, ts)
	waitForClients(t, gw, 1)

	if err := ws.WriteJSON(Envelope{Type: "bogus", ID: "7"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readEnvelope(t, ws, "error")
	if env.ID != "7" {
		t.Fatalf("error not correlated, id=%q", env.ID)
	}
	var payload map[string]string
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if !strings.Contains(payload["message"], "unknown") {
		t.Fatalf("unexpected error message: %q", payload["message"])
	}
}

func TestOriginAllowList(t *testing.T) {
	client := startBus(t)
	_, ts := startGateway(t, client, config.GatewayConfig{
		Enabled:        true,
		Path:           "/ws",
		AllowedOrigins: []string{"http://allowed.test"},
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	header := http.Header{"Origin": []string{"http://evil.test"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatalf("expected handshake rejection for disallowed origin")
	}

	header = http.Header{"Origin": []string{"http://allowed.test"}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	ws.Close()
}
