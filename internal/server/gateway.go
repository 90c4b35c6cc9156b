// Package server exposes the match engine over HTTP and WebSocket. The
// REST surface creates and inspects matches; the WebSocket gateway carries
// the per-seat play protocol and streams resolution events.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openskirmish/skirmish-server-go/internal/auth"
	"github.com/openskirmish/skirmish-server-go/internal/game"
	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
	"github.com/openskirmish/skirmish-server-go/internal/session"
)

const (
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Server message types pushed to WebSocket clients.
const (
	msgJoined          = "joined"
	msgSnapshot        = "snapshot"
	msgQueued          = "queued"
	msgRetracted       = "retracted"
	msgReadyState      = "ready_state"
	msgResolutionEvent = "resolution_event"
	msgError           = "error"
)

// serverMessage is the envelope for everything the gateway sends.
type serverMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	ActionID  string          `json:"action_id,omitempty"`
	AllReady  bool            `json:"all_ready,omitempty"`
	Match     *game.MatchView `json:"match,omitempty"`
	Event     *resolve.Event  `json:"event,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Client is one WebSocket connection. Seat fields are assigned on join and
// only mutated under the gateway lock.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	ip   string

	sessionID   string
	matchID     string
	combatantID string
}

// matchSub tracks the engine subscription relaying one match's events to
// the gateway's clients.
type matchSub struct {
	handle  int
	clients int
}

// GatewayConfig wires the gateway's collaborators.
type GatewayConfig struct {
	Engine         *game.Engine
	Sessions       *session.Manager
	Tokens         *auth.TokenStore // nil disables join token checks
	AllowedOrigins []string
	MaxClients     int
	MaxPerIP       int
	Logger         *zap.Logger
}

// Gateway owns all WebSocket clients and the per-match event relays.
type Gateway struct {
	logger   *zap.Logger
	engine   *game.Engine
	sessions *session.Manager
	tokens   *auth.TokenStore
	upgrader websocket.Upgrader
	maxTotal int
	perIP    *connLimiter

	mu      sync.RWMutex
	clients map[*Client]bool
	subs    map[string]*matchSub
}

// NewGateway creates a gateway. It starts no goroutines; connections get
// their pumps when HandleWS upgrades them.
func NewGateway(cfg GatewayConfig) *Gateway {
	maxTotal := cfg.MaxClients
	if maxTotal <= 0 {
		maxTotal = 500
	}
	maxPerIP := cfg.MaxPerIP
	if maxPerIP <= 0 {
		maxPerIP = 8
	}

	return &Gateway{
		logger:   cfg.Logger,
		engine:   cfg.Engine,
		sessions: cfg.Sessions,
		tokens:   cfg.Tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		maxTotal: maxTotal,
		perIP:    newConnLimiter(maxPerIP),
		clients:  make(map[*Client]bool),
		subs:     make(map[string]*matchSub),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
			if strings.HasPrefix(a, "*.") && strings.HasSuffix(origin, a[1:]) {
				return true
			}
		}
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "http://127.0.0.1")
	}
}

// HandleWS upgrades the request and runs the connection until the client
// goes away.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if g.ClientCount() >= g.maxTotal {
		recordRejected("ws_total_limit")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if !g.perIP.acquire(ip) {
		recordRejected("ws_ip_limit")
		http.Error(w, "too many connections from this address", http.StatusTooManyRequests)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.perIP.release(ip)
		if g.logger != nil {
			g.logger.Warn("websocket upgrade failed", zap.String("ip", ip), zap.Error(err))
		}
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		ip:   ip,
	}

	g.mu.Lock()
	g.clients[client] = true
	count := len(g.clients)
	g.mu.Unlock()
	setWSConnections(count)

	if g.logger != nil {
		g.logger.Info("client connected", zap.String("ip", ip), zap.Int("total", count))
	}

	go client.writePump()
	g.readPump(client)
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
		recordWSMessage("outbound")
	}
}

func (g *Gateway) readPump(client *Client) {
	defer g.removeClient(client)

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		recordWSMessage("inbound")

		msg, err := parseClientMessage(raw)
		if err != nil {
			g.sendTo(client, serverMessage{Type: msgError, Message: err.Error()})
			continue
		}

		if client.sessionID != "" {
			g.sessions.Touch(client.sessionID)
		}

		g.handleMessage(client, msg)
	}
}

func (g *Gateway) handleMessage(client *Client, msg clientMessage) {
	switch msg.Type {
	case msgJoin:
		g.handleJoin(client, msg)

	case msgQueuePlay:
		if !g.requireSeat(client) {
			return
		}
		actionID, err := g.engine.QueuePlay(client.matchID, client.combatantID, msg.CardID, msg.TargetIDs)
		if err != nil {
			g.sendTo(client, serverMessage{Type: msgError, Message: err.Error()})
			return
		}
		recordPlayQueued()
		g.sendTo(client, serverMessage{Type: msgQueued, ActionID: actionID})
		g.broadcastSnapshot(client.matchID)

	case msgRetractPlay:
		if !g.requireSeat(client) {
			return
		}
		if err := g.engine.RetractPlay(client.matchID, client.combatantID, msg.ActionID); err != nil {
			g.sendTo(client, serverMessage{Type: msgError, Message: err.Error()})
			return
		}
		g.sendTo(client, serverMessage{Type: msgRetracted, ActionID: msg.ActionID})
		g.broadcastSnapshot(client.matchID)

	case msgReady:
		if !g.requireSeat(client) {
			return
		}
		allReady, err := g.engine.MarkReady(client.matchID, client.combatantID)
		if err != nil {
			g.sendTo(client, serverMessage{Type: msgError, Message: err.Error()})
			return
		}
		g.sendTo(client, serverMessage{Type: msgReadyState, AllReady: allReady})
		g.broadcastSnapshot(client.matchID)

	case msgPresentationDone:
		if !g.requireSeat(client) {
			return
		}
		if _, err := g.engine.SignalPresentation(client.matchID, msg.ActionID); err != nil {
			g.sendTo(client, serverMessage{Type: msgError, Message: err.Error()})
		}

	case msgRequestSnapshot:
		if !g.requireSeat(client) {
			return
		}
		g.sendSnapshot(client)
	}
}

func (g *Gateway) handleJoin(client *Client, msg clientMessage) {
	if client.matchID != "" {
		g.sendTo(client, serverMessage{Type: msgError, Message: "already joined"})
		return
	}

	if _, err := g.engine.MatchView(msg.MatchID); err != nil {
		g.sendTo(client, serverMessage{Type: msgError, Message: err.Error()})
		return
	}

	if g.tokens != nil && !g.tokens.Verify(msg.MatchID, msg.CombatantID, msg.Token) {
		g.sendTo(client, serverMessage{Type: msgError, Message: "invalid join token"})
		return
	}

	sess, err := g.sessions.Create(msg.Name)
	if err != nil {
		if errors.Is(err, session.ErrSessionLimit) {
			recordRejected("session_limit")
		}
		g.sendTo(client, serverMessage{Type: msgError, Message: err.Error()})
		return
	}
	if err := g.sessions.Bind(sess.ID, msg.MatchID, msg.CombatantID); err != nil {
		g.sessions.End(sess.ID)
		g.sendTo(client, serverMessage{Type: msgError, Message: err.Error()})
		return
	}

	g.mu.Lock()
	client.sessionID = sess.ID
	client.matchID = msg.MatchID
	client.combatantID = msg.CombatantID
	g.mu.Unlock()

	g.subscribeMatch(msg.MatchID)

	view, err := g.engine.MatchView(msg.MatchID)
	if err == nil {
		g.sendTo(client, serverMessage{
			Type:      msgJoined,
			SessionID: sess.ID,
			Match:     &view,
		})
	}

	// A run may already be executing; replay its announcement so the late
	// joiner knows the running order.
	if ev, ok, _ := g.engine.CurrentRun(msg.MatchID); ok {
		g.sendTo(client, serverMessage{Type: msgResolutionEvent, Event: &ev})
	}

	if g.logger != nil {
		g.logger.Info("seat joined",
			zap.String("match_id", msg.MatchID),
			zap.String("combatant_id", msg.CombatantID),
			zap.String("session_id", sess.ID),
		)
	}
}

// requireSeat rejects messages sent before a successful join.
func (g *Gateway) requireSeat(client *Client) bool {
	if client.matchID == "" {
		g.sendTo(client, serverMessage{Type: msgError, Message: "join a match first"})
		return false
	}
	return true
}

// subscribeMatch relays engine events for a match to the gateway's
// clients, reference counted per connected seat.
func (g *Gateway) subscribeMatch(matchID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sub, ok := g.subs[matchID]; ok {
		sub.clients++
		return
	}

	handle, err := g.engine.Subscribe(matchID, resolve.ObserverFunc(func(ev resolve.Event) {
		g.broadcastEvent(matchID, ev)
	}))
	if err != nil {
		return
	}
	g.subs[matchID] = &matchSub{handle: handle, clients: 1}
}

func (g *Gateway) unsubscribeMatch(matchID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sub, ok := g.subs[matchID]
	if !ok {
		return
	}
	sub.clients--
	if sub.clients > 0 {
		return
	}
	delete(g.subs, matchID)
	// The match may already be closed; the subscription died with it.
	_ = g.engine.Unsubscribe(matchID, sub.handle)
}

func (g *Gateway) removeClient(client *Client) {
	g.mu.Lock()
	if !g.clients[client] {
		g.mu.Unlock()
		return
	}
	delete(g.clients, client)
	close(client.send)
	matchID := client.matchID
	sessionID := client.sessionID
	count := len(g.clients)
	g.mu.Unlock()

	client.conn.Close()
	g.perIP.release(client.ip)
	setWSConnections(count)

	if sessionID != "" {
		g.sessions.End(sessionID)
	}
	if matchID != "" {
		g.unsubscribeMatch(matchID)
	}

	if g.logger != nil {
		g.logger.Info("client disconnected", zap.String("ip", client.ip), zap.Int("total", count))
	}
}

// sendTo queues a message for one client. A client that cannot keep up is
// disconnected rather than allowed to stall the sender.
func (g *Gateway) sendTo(client *Client, msg serverMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.clients[client] {
		return
	}
	select {
	case client.send <- payload:
	default:
		go client.conn.Close()
	}
}

// broadcastEvent fans a resolution event out to every client seated in
// the match.
func (g *Gateway) broadcastEvent(matchID string, ev resolve.Event) {
	payload, err := json.Marshal(serverMessage{Type: msgResolutionEvent, Event: &ev})
	if err != nil {
		return
	}
	g.broadcastRaw(matchID, payload)
}

func (g *Gateway) broadcastSnapshot(matchID string) {
	view, err := g.engine.MatchView(matchID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(serverMessage{Type: msgSnapshot, Match: &view})
	if err != nil {
		return
	}
	g.broadcastRaw(matchID, payload)
}

func (g *Gateway) broadcastRaw(matchID string, payload []byte) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for client := range g.clients {
		if client.matchID != matchID {
			continue
		}
		select {
		case client.send <- payload:
		default:
			go client.conn.Close()
		}
	}
}

func (g *Gateway) sendSnapshot(client *Client) {
	view, err := g.engine.MatchView(client.matchID)
	if err != nil {
		g.sendTo(client, serverMessage{Type: msgError, Message: err.Error()})
		return
	}
	g.sendTo(client, serverMessage{Type: msgSnapshot, Match: &view})
}

// ClientCount returns the number of connected clients.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Shutdown closes every connection. Pumps unwind through their normal
// cleanup paths.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(g.clients))
	for client := range g.clients {
		conns = append(conns, client.conn)
	}
	g.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}
