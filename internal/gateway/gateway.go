// Package gateway bridges browser and remote UIs onto the bus over a single
// WebSocket. Inbound envelopes become control publishes or request/reply
// round trips; every daemon event subject is fanned out to all clients.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/parlolabs/parlo-core/internal/bus"
	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/protocol"
)

// Envelope frames every message crossing the socket. ID correlates request
// and reply envelopes; events leave it empty.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// controlSubjects maps inbound envelope types to control subjects.
var controlSubjects = map[string]string{
	"listen.start":  protocol.SubjectListenStart,
	"listen.stop":   protocol.SubjectListenStop,
	"record.start":  protocol.SubjectRecordStart,
	"record.stop":   protocol.SubjectRecordStop,
	"speak":         protocol.SubjectSpeak,
	"voice.set":     protocol.SubjectVoiceSet,
	"voice.toggle":  protocol.SubjectVoiceToggle,
	"situation.set": protocol.SubjectSituationSet,
}

// eventSubjects are fanned out to every connected client as-is.
var eventSubjects = []string{
	protocol.SubjectSessionState,
	protocol.SubjectNotice,
	protocol.SubjectTranscriptPartial,
	protocol.SubjectTranscriptFinal,
	protocol.SubjectListenStatus,
	protocol.SubjectRecordStatus,
	protocol.SubjectRecordText,
	protocol.SubjectSpeakStatus,
	protocol.SubjectSituationSnapshot,
}

type conn struct {
	ws        *websocket.Conn
	mu        sync.Mutex // protects writes
	closeOnce sync.Once
}

func (c *conn) send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(env)
}

func (c *conn) sendError(id, message string) {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return
	}
	_ = c.send(Envelope{Type: "error", ID: id, Payload: payload})
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}

type Service struct {
	cfg      config.GatewayConfig
	bus      *bus.Client
	logger   *slog.Logger
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
	subs     []*nats.Subscription
	ready    bool

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func NewService(cfg config.GatewayConfig, busClient *bus.Client, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		logger: logger.With(slog.String("component", "gateway")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		conns: make(map[*conn]struct{}),
	}
}

// originChecker allows everything when no allow-list is configured.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Start subscribes the event fanout.
func (s *Service) Start() error {
	if !s.cfg.Enabled || s.bus == nil {
		return nil
	}
	for _, subject := range eventSubjects {
		sub, err := s.bus.Subscribe(subject, s.fanout(subject))
		if err != nil {
			s.closeSubs()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	s.ready = true
	s.logger.Info("gateway started", slog.String("path", s.cfg.Path))
	return nil
}

func (s *Service) Close() {
	s.closeSubs()

	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*conn]struct{})
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}

	s.wg.Wait()
}

func (s *Service) closeSubs() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

// ClientCount reports connected UIs, for the status surface.
func (s *Service) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Handler upgrades incoming connections; the runtime mounts it on the
// configured path.
func (s *Service) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", slogError(err))
			return
		}
		c := &conn{ws: ws}
		s.register(c)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.readLoop(c)
		}()
	}
}

func (s *Service) register(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	count := len(s.conns)
	s.mu.Unlock()
	s.logger.Info("client connected", slog.Int("clients", count))
}

func (s *Service) unregister(c *conn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	count := len(s.conns)
	s.mu.Unlock()
	c.close()
	if ok {
		s.logger.Info("client disconnected", slog.Int("clients", count))
	}
}

func (s *Service) readLoop(c *conn) {
	defer s.unregister(c)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("", "invalid envelope")
			continue
		}
		s.dispatch(c, env)
	}
}

func (s *Service) dispatch(c *conn, env Envelope) {
	if subject, ok := controlSubjects[env.Type]; ok {
		if err := s.bus.Publish(subject, env.Payload); err != nil {
			s.logger.Warn("failed to forward control message", slog.String("type", env.Type), slogError(err))
			c.sendError(env.ID, "bus unavailable")
		}
		return
	}

	switch env.Type {
	case "suggest":
		s.request(c, env, "suggest.response", protocol.SubjectSuggestRequest, env.Payload, 10*time.Second)
	case "status":
		s.request(c, env, "status", protocol.SubjectSessionStatus, nil, 2*time.Second)
	default:
		c.sendError(env.ID, "unknown message type "+env.Type)
	}
}

// request performs a bus round trip off the read loop so a slow responder
// never stalls other inbound messages.
func (s *Service) request(c *conn, env Envelope, replyType, subject string, payload []byte, timeout time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reply, err := s.bus.Request(subject, payload, timeout)
		if err != nil {
			s.logger.Warn("request failed", slog.String("subject", subject), slogError(err))
			c.sendError(env.ID, replyType+" unavailable")
			return
		}
		if err := c.send(Envelope{Type: replyType, ID: env.ID, Payload: reply.Data}); err != nil {
			s.logger.Debug("failed to deliver reply", slogError(err))
		}
	}()
}

func (s *Service) fanout(subject string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		env := Envelope{Type: subject, Payload: msg.Data}
		s.mu.Lock()
		conns := make([]*conn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		for _, c := range conns {
			if err := c.send(env); err != nil {
				s.unregister(c)
			}
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
