package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"enginesound/server/internal/input"
	"enginesound/server/internal/logging"
	"enginesound/server/internal/telemetry"
)

const (
	writeWait   = 2 * time.Second
	replyBuffer = 16
)

// RateLimiter gates how frequently websocket handshakes are admitted.
type RateLimiter interface {
	Allow() bool
	RetryAfter() time.Duration
}

// HubConfig controls websocket admission and keepalive.
type HubConfig struct {
	// AllowedOrigins lists exact Origin values; empty admits every origin.
	AllowedOrigins  []string
	Token           string
	PingInterval    time.Duration
	MaxPayloadBytes int64
	MaxClients      int
	Limiter         RateLimiter
}

// HubStats summarises websocket activity for metrics.
type HubStats struct {
	Clients  int
	Messages uint64
	Invalid  uint64
	Rejected uint64
}

type tickerFactory func(time.Duration) (<-chan time.Time, func())

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithTickerFactory overrides how the telemetry push and ping tickers are created.
func WithTickerFactory(factory tickerFactory) HubOption {
	return func(h *Hub) {
		if factory != nil {
			h.newTicker = factory
		}
	}
}

// WithHubLogger routes connection logs to logger.
func WithHubLogger(logger *logging.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Hub serves the /ws control channel. Each client receives telemetry at telemetry.StreamRateHz
// and may submit commands that are routed through the shared intake.
type Hub struct {
	cfg       HubConfig
	source    telemetry.Source
	intake    *input.Intake
	logger    *logging.Logger
	upgrader  websocket.Upgrader
	newTicker tickerFactory
	origins   map[string]struct{}

	mu      sync.Mutex
	clients map[string]*wsClient
	pending int
	closed  bool
	wg      sync.WaitGroup

	messages atomic.Uint64
	invalid  atomic.Uint64
	rejected atomic.Uint64
}

type wsClient struct {
	id      string
	conn    *websocket.Conn
	replies chan []byte
	done    chan struct{}
	once    sync.Once
}

func (c *wsClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// NewHub constructs the websocket endpoint.
func NewHub(cfg HubConfig, source telemetry.Source, intake *input.Intake, opts ...HubOption) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	cfg.Token = strings.TrimSpace(cfg.Token)
	hub := &Hub{
		cfg:       cfg,
		source:    source,
		intake:    intake,
		logger:    logging.L(),
		newTicker: defaultTickerFactory,
		clients:   make(map[string]*wsClient),
	}
	if len(cfg.AllowedOrigins) > 0 {
		hub.origins = make(map[string]struct{}, len(cfg.AllowedOrigins))
		for _, origin := range cfg.AllowedOrigins {
			hub.origins[strings.ToLower(strings.TrimSpace(origin))] = struct{}{}
		}
	}
	hub.upgrader = websocket.Upgrader{CheckOrigin: hub.checkOrigin}
	for _, opt := range opts {
		if opt != nil {
			opt(hub)
		}
	}
	return hub
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.origins == nil {
		return true
	}
	origin := strings.ToLower(strings.TrimSpace(r.Header.Get("Origin")))
	if origin == "" {
		//1.- Non-browser clients send no Origin and are governed by the token instead.
		return true
	}
	if _, ok := h.origins["*"]; ok {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

func (h *Hub) authorise(r *http.Request) bool {
	if h.cfg.Token == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	}
	if token == "" {
		//2.- Browsers cannot set headers on a websocket handshake.
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.Token)) == 1
}

// reserve claims a connection slot before the upgrade completes.
func (h *Hub) reserve() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.cfg.MaxClients > 0 && len(h.clients)+h.pending >= h.cfg.MaxClients {
		return false
	}
	h.pending++
	return true
}

func (h *Hub) register(client *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending--
	if h.closed {
		return false
	}
	h.clients[client.id] = client
	h.wg.Add(1)
	return true
}

func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	delete(h.clients, client.id)
	h.mu.Unlock()
	if h.intake != nil {
		h.intake.Forget(client.id)
	}
	h.wg.Done()
}

// ServeHTTP authenticates, upgrades and runs one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqLogger := h.logger.With(
		logging.String("remote_addr", r.RemoteAddr),
		logging.String(logging.TraceIDField, logging.TraceIDFromContext(r.Context())),
	)
	if !h.authorise(r) {
		h.rejected.Add(1)
		reqLogger.Warn("websocket denied: unauthorized request")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.cfg.Limiter != nil && !h.cfg.Limiter.Allow() {
		h.rejected.Add(1)
		wait := int(math.Ceil(h.cfg.Limiter.RetryAfter().Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(wait, 1)))
		reqLogger.Warn("websocket denied: rate limit exceeded")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	if !h.reserve() {
		h.rejected.Add(1)
		reqLogger.Warn("websocket denied: at capacity", logging.Int("max_clients", h.cfg.MaxClients))
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.mu.Lock()
		h.pending--
		h.mu.Unlock()
		h.rejected.Add(1)
		//3.- The upgrader has already written the HTTP error response.
		reqLogger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	client := &wsClient{
		id:      uuid.NewString(),
		conn:    conn,
		replies: make(chan []byte, replyBuffer),
		done:    make(chan struct{}),
	}
	if !h.register(client) {
		_ = conn.Close()
		return
	}
	defer h.unregister(client)

	clientLogger := reqLogger.With(logging.String("client_id", client.id))
	clientLogger.Info("websocket client connected")
	go h.writeLoop(client, clientLogger)
	h.readLoop(client, clientLogger)
	client.stop()
	_ = conn.Close()
	clientLogger.Info("websocket client disconnected")
}

func (h *Hub) readLoop(client *wsClient, logger *logging.Logger) {
	conn := client.conn
	if h.cfg.MaxPayloadBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxPayloadBytes)
	}
	deadline := 2 * h.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
				logger.Debug("websocket read ended", logging.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		h.messages.Add(1)
		h.handleMessage(client, data, logger)
	}
}

func (h *Hub) handleMessage(client *wsClient, data []byte, logger *logging.Logger) {
	env, err := input.DecodeJSON(data)
	if err != nil {
		h.invalid.Add(1)
		h.reply(client, "invalid", err.Error())
		return
	}
	//4.- The connection identity drives sequencing so one client cannot reset another's stream.
	env.ClientID = client.id
	if h.intake == nil {
		h.reply(client, "unavailable", "commands disabled")
		return
	}
	decision, err := h.intake.Submit(env)
	if err != nil {
		logger.Warn("enqueue command failed", logging.Error(err))
		h.reply(client, "unavailable", err.Error())
		return
	}
	if !decision.Accepted {
		h.reply(client, "dropped", decision.Reason.String())
	}
}

// reply queues a status message for the writer, discarding it when the client is not reading.
func (h *Hub) reply(client *wsClient, kind, reason string) {
	payload, err := marshalReply(kind, reason)
	if err != nil {
		return
	}
	select {
	case client.replies <- payload:
	default:
	}
}

// Reply is the status message sent back for a command that did not reach the engine.
type Reply struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func marshalReply(kind, reason string) ([]byte, error) {
	return json.Marshal(Reply{Type: kind, Reason: reason})
}

func (h *Hub) writeLoop(client *wsClient, logger *logging.Logger) {
	conn := client.conn
	pushCh, stopPush := h.newTicker(time.Second / telemetry.StreamRateHz)
	pingCh, stopPing := h.newTicker(h.cfg.PingInterval)
	defer func() {
		stopPush()
		stopPing()
		_ = conn.Close()
	}()

	var (
		lastTick uint64
		sent     bool
	)
	write := func(payload []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Debug("websocket write failed", logging.Error(err))
			return false
		}
		return true
	}
	for {
		select {
		case <-client.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case payload := <-client.replies:
			if !write(payload) {
				return
			}
		case _, ok := <-pushCh:
			if !ok {
				pushCh = nil
				continue
			}
			if h.source == nil {
				continue
			}
			record := h.source.Telemetry()
			if sent && record.Tick == lastTick {
				continue
			}
			payload, err := telemetry.MarshalJSON(record)
			if err != nil {
				logger.Error("encode telemetry", logging.Error(err))
				continue
			}
			if !write(payload) {
				return
			}
			lastTick, sent = record.Tick, true
		case _, ok := <-pingCh:
			if !ok {
				pingCh = nil
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("websocket ping failed", logging.Error(err))
				return
			}
		}
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stats reports websocket counters.
func (h *Hub) Stats() HubStats {
	if h == nil {
		return HubStats{}
	}
	return HubStats{
		Clients:  h.Clients(),
		Messages: h.messages.Load(),
		Invalid:  h.invalid.Load(),
		Rejected: h.rejected.Load(),
	}
}

// Close refuses new clients, asks connected ones to go away and waits for them to detach.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()
	for _, client := range clients {
		client.stop()
	}
	h.wg.Wait()
}
