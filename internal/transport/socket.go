package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ProtocolVersion is the negotiated wire-protocol version for the graph
// stream content type (x-jinaga-graph-v1).
var ProtocolVersion = "1.0.0"

// NegotiateResult is the response body of the optional HTTP /negotiate step.
type NegotiateResult struct {
	ConnectionID    string `json:"connectionId"`
	ConnectionToken string `json:"connectionToken"`
	URL             string `json:"url"`
}

// Config controls one Socket's connection behavior.
type Config struct {
	// URL is the negotiate endpoint (http/https) or, if NegotiatePath is
	// empty, the WebSocket URL to dial directly.
	URL string
	// NegotiatePath, if non-empty, is appended to URL for the HTTP
	// negotiation step before dialing.
	NegotiatePath string
	// BearerToken, if non-empty, is sent as the Authorization header on
	// negotiation and as the access_token query parameter on the socket URL.
	BearerToken string

	// Stateful additionally preserves and replays a send buffer across
	// reconnects. Stateless drops it.
	Stateful bool
	// BufferSends enables queuing outgoing messages while disconnected.
	BufferSends bool

	// MaxReconnectAttempts bounds total reconnect attempts; 0 is unlimited.
	MaxReconnectAttempts int
	// HeartbeatInterval, if non-zero, sends a ping frame on this interval.
	HeartbeatInterval time.Duration
	// ConnectTimeout bounds one connection attempt, including negotiation.
	ConnectTimeout time.Duration
	// CloseTimeout bounds how long graceful shutdown waits for the server's
	// close acknowledgement before forcing the connection shut.
	CloseTimeout time.Duration

	QueueCapacity int
	MaxRetries    int
}

// DefaultConfig returns the timeout and retry defaults from spec.md §5.
func DefaultConfig(wsURL string) Config {
	return Config{
		URL:            wsURL,
		BufferSends:    true,
		ConnectTimeout: 10 * time.Second,
		CloseTimeout:   5 * time.Second,
		QueueCapacity:  1024,
		MaxRetries:     5,
	}
}

type pingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Socket owns one logical WebSocket connection shared by every feed
// subscription, per spec.md §4.11: it drives the state machine, reconnects
// with backoff, replays active SUB frames, and multiplexes sends through a
// bounded priority queue.
type Socket struct {
	cfg    Config
	dialer *websocket.Dialer
	states *stateMachine
	router *Router

	mu          sync.Mutex
	conn        *websocket.Conn
	shutdown    bool
	reconnectN  int
	activeSubs  map[string]string // feed -> last known bookmark, for resubscribe
	readBuf     strings.Builder
	closingOnce sync.Once

	sendQueue   *SendQueue
	wake        chan struct{}
	pingLimiter *rate.Limiter
}

// NewSocket creates a Socket that decodes graph lines via router and applies
// cfg's reconnection/heartbeat/queueing policy.
func NewSocket(cfg Config, router *Router) *Socket {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 5 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.HeartbeatInterval > 0 {
		// One token per interval, burst 1: paces pings to no faster than the
		// configured interval even if the ticker and a reconnect-triggered
		// restart of heartbeatLoop ever overlap.
		limiter = rate.NewLimiter(rate.Every(cfg.HeartbeatInterval), 1)
	}

	return &Socket{
		cfg:         cfg,
		dialer:      websocket.DefaultDialer,
		states:      newStateMachine(),
		router:      router,
		activeSubs:  make(map[string]string),
		sendQueue:   NewSendQueue(cfg.QueueCapacity, cfg.MaxRetries),
		wake:        make(chan struct{}, 1),
		pingLimiter: limiter,
	}
}

// OnStateChange registers h to be called on every transition.
func (s *Socket) OnStateChange(h StateChangeHandler) { s.states.onChange(h) }

// State reports the current connection state.
func (s *Socket) State() State { return s.states.get() }

// Connect dials (negotiating first if configured) and starts the read loop
// and, if configured, the heartbeat ticker. It returns once the initial
// connection succeeds or ctx is done.
func (s *Socket) Connect(ctx context.Context) error {
	s.states.transition(Connecting, nil)
	conn, err := s.dial(ctx)
	if err != nil {
		s.states.transition(Disconnected, err)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.reconnectN = 0
	s.mu.Unlock()

	s.states.transition(Connected, nil)
	go s.readLoop()
	if s.cfg.HeartbeatInterval > 0 {
		go s.heartbeatLoop()
	}
	s.resubscribeAll()
	go s.drainQueue(conn)
	return nil
}

// dial performs the optional negotiate step, then opens the WebSocket.
func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	wsURL := s.cfg.URL
	if s.cfg.NegotiatePath != "" {
		neg, err := s.negotiate(ctx)
		if err == nil {
			wsURL = neg.URL
		}
		// Negotiation failing falls back to a direct dial against the
		// configured URL, scheme-translated below.
	}

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if s.cfg.BearerToken != "" {
		q := u.Query()
		q.Set("access_token", s.cfg.BearerToken)
		u.RawQuery = q.Encode()
	}

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return conn, nil
}

func (s *Socket) negotiate(ctx context.Context) (*NegotiateResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+s.cfg.NegotiatePath, nil)
	if err != nil {
		return nil, err
	}
	if s.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.BearerToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("transport: negotiate: status %d", resp.StatusCode)
	}
	var out NegotiateResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// readLoop owns the connection's incoming side: it splits chunked bytes on
// newlines, stashing an incomplete trailing frame, and hands complete lines
// to the router.
func (s *Socket) readLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(err)
			return
		}

		text := s.readBuf.String() + string(data)
		s.readBuf.Reset()
		lines := strings.Split(text, "\n")
		// The last element is either empty (data ended on a newline) or an
		// incomplete trailing frame; either way it is not yet a full line.
		last := lines[len(lines)-1]
		lines = lines[:len(lines)-1]
		s.readBuf.WriteString(last)

		for _, line := range lines {
			if isPingPong(line) {
				continue
			}
			_ = s.router.HandleLine(line)
		}
	}
}

func isPingPong(line string) bool {
	var p pingFrame
	if err := json.Unmarshal([]byte(line), &p); err != nil {
		return false
	}
	return p.Type == "ping" || p.Type == "pong"
}

func (s *Socket) handleDisconnect(err error) {
	s.mu.Lock()
	shutdown := s.shutdown
	s.conn = nil
	s.mu.Unlock()

	if shutdown {
		s.states.transition(Disconnected, nil)
		return
	}
	s.states.transition(Reconnecting, err)
	s.reconnect()
}

func (s *Socket) reconnect() {
	for {
		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			return
		}
		if s.cfg.MaxReconnectAttempts > 0 && s.reconnectN >= s.cfg.MaxReconnectAttempts {
			s.mu.Unlock()
			s.states.transition(Disconnected, fmt.Errorf("transport: reconnect attempts exhausted"))
			return
		}
		attempt := s.reconnectN
		s.reconnectN++
		s.mu.Unlock()

		delay := backoffDelay(attempt)
		time.Sleep(delay)

		s.states.transition(Connecting, nil)
		conn, err := s.dial(context.Background())
		if err != nil {
			s.states.transition(Reconnecting, err)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		if !s.cfg.Stateful {
			s.sendQueue.Clear()
		}
		s.mu.Unlock()

		s.states.transition(Connected, nil)
		go s.readLoop()
		s.resubscribeAll()
		go s.drainQueue(conn)
		return
	}
}

// backoffDelay implements the 1s -> 30s capped exponential reconnect
// schedule from spec.md §4.11.
func backoffDelay(attempt int) time.Duration {
	delay := time.Second
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= 30*time.Second {
			return 30 * time.Second
		}
	}
	return delay
}

// Subscribe records feed as active (for resubscribe after reconnect) and
// sends its SUB frame.
func (s *Socket) Subscribe(feedStr, bookmark string) error {
	s.mu.Lock()
	s.activeSubs[feedStr] = bookmark
	s.mu.Unlock()
	return s.Send(EncodeSub(feedStr, bookmark), PriorityNormal)
}

// Unsubscribe drops feed from the active set and sends its UNSUB frame.
func (s *Socket) Unsubscribe(feedStr string) error {
	s.mu.Lock()
	delete(s.activeSubs, feedStr)
	s.mu.Unlock()
	return s.Send(EncodeUnsub(feedStr), PriorityNormal)
}

// AdvanceBookmark updates the locally tracked bookmark for feedStr so a
// later reconnect resubmits from the right position. Called by the owner
// once Router.OnBook fires and the bookmark has been persisted.
func (s *Socket) AdvanceBookmark(feedStr, bookmark string) {
	s.mu.Lock()
	if _, ok := s.activeSubs[feedStr]; ok {
		s.activeSubs[feedStr] = bookmark
	}
	s.mu.Unlock()
}

func (s *Socket) resubscribeAll() {
	s.mu.Lock()
	subs := make(map[string]string, len(s.activeSubs))
	for k, v := range s.activeSubs {
		subs[k] = v
	}
	s.mu.Unlock()
	for feedStr, bookmark := range subs {
		_ = s.Send(EncodeSub(feedStr, bookmark), PriorityHigh)
	}
}

// Send enqueues payload for delivery. If disconnected and buffering is
// disabled, it fails immediately with ErrNotConnected. Otherwise it wakes
// the current connection's drain loop so the message does not wait for the
// next reconnect to be picked up.
func (s *Socket) Send(payload string, p Priority) error {
	s.mu.Lock()
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected && !s.cfg.BufferSends {
		return ErrNotConnected
	}
	if err := s.sendQueue.Enqueue([]byte(payload), p); err != nil {
		return err
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// drainQueue owns the send side of one connection for as long as conn
// remains the current one: it flushes the queue oldest-first whenever
// woken, and otherwise idles. A send failure re-queues the message at the
// head of its tier and triggers a reconnect, which ends this loop (the
// next connection gets its own drainQueue goroutine).
func (s *Socket) drainQueue(conn *websocket.Conn) {
	for {
		s.mu.Lock()
		current := s.conn
		s.mu.Unlock()
		if current != conn {
			return
		}

		m, ok := s.sendQueue.Dequeue()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-time.After(time.Second):
				continue
			}
		}

		// m.attempts counts failed sends, so the 0-indexed retry is one less.
		if d := RetryDelay(m.attempts - 1); d > 0 {
			time.Sleep(d)
		}

		if err := conn.WriteMessage(websocket.TextMessage, m.payload); err != nil {
			m.attempts++
			if s.sendQueue.ShouldDrop(m.attempts) {
				continue
			}
			s.sendQueue.EnqueueFront(m)
			s.handleDisconnect(err)
			return
		}
	}
}

func (s *Socket) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		conn := s.conn
		shutdown := s.shutdown
		s.mu.Unlock()
		if shutdown {
			return
		}
		if conn == nil {
			continue
		}
		if s.pingLimiter != nil && !s.pingLimiter.Allow() {
			continue
		}
		frame := pingFrame{Type: "ping", Timestamp: time.Now().UnixMilli()}
		data, _ := json.Marshal(frame)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.handleDisconnect(err)
			return
		}
	}
}

// Close performs a graceful shutdown: sets the shutdown flag so the read
// loop does not trigger a reconnect, sends a close frame, and waits up to
// CloseTimeout before forcing the connection shut.
func (s *Socket) Close() error {
	var err error
	s.closingOnce.Do(func() {
		s.states.transition(Disconnecting, nil)

		s.mu.Lock()
		s.shutdown = true
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			s.states.transition(Disconnected, nil)
			return
		}

		deadline := time.Now().Add(s.cfg.CloseTimeout)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)

		// Wait for the server's close acknowledgement, which the read loop
		// sees as a ReadMessage failure and answers by clearing s.conn, or
		// for the deadline, whichever comes first.
		for time.Now().Before(deadline) {
			s.mu.Lock()
			acked := s.conn == nil
			s.mu.Unlock()
			if acked {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		err = conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		s.states.transition(Disconnected, nil)
	})
	return err
}

// Clear discards every queued-but-not-yet-sent message, per spec.md §5's
// clear().
func (s *Socket) Clear() { s.sendQueue.Clear() }
