package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openskirmish/skirmish-server-go/internal/auth"
	"github.com/openskirmish/skirmish-server-go/internal/content"
	"github.com/openskirmish/skirmish-server-go/internal/game"
	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
	"github.com/openskirmish/skirmish-server-go/internal/server"
	"github.com/openskirmish/skirmish-server-go/internal/session"
)

// wsMessage mirrors the gateway's envelope for decoding on the client side.
type wsMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	ActionID  string          `json:"action_id"`
	AllReady  bool            `json:"all_ready"`
	Match     *game.MatchView `json:"match"`
	Event     *resolve.Event  `json:"event"`
	Message   string          `json:"message"`
}

type serverEnv struct {
	ts         *httptest.Server
	engine     *game.Engine
	journalDir string
}

// newServerEnv assembles the full serving stack the way cmd/server does,
// minus the database, on an httptest listener.
func newServerEnv(t testing.TB) *serverEnv {
	// Resolution goroutines outlive individual requests, so the engine gets
	// a no-op logger instead of zaptest.
	logger := zap.NewNop()
	journalDir := t.TempDir()

	catalog := content.Default()
	engine := game.NewEngine(catalog, game.Options{
		WindowDuration:   0,
		EnergyCapacity:   10,
		EnergyRegen:      3,
		DefaultMaxHealth: 20,
		JournalDir:       journalDir,
	}, logger)

	sessions := session.NewManager(time.Minute, 64, logger)
	tokens := auth.NewTokenStore(time.Minute)

	gateway := server.NewGateway(server.GatewayConfig{
		Engine:   engine,
		Sessions: sessions,
		Tokens:   tokens,
		Logger:   logger,
	})

	router := server.NewRouter(server.RouterConfig{
		Logger:  logger,
		Engine:  engine,
		Gateway: gateway,
		Catalog: catalog,
		Tokens:  tokens,
	})

	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Close()
		gateway.Shutdown()
		sessions.CloseAll()
	})

	return &serverEnv{ts: ts, engine: engine, journalDir: journalDir}
}

func (env *serverEnv) createMatch(t testing.TB, matchID string, seed int64) map[string]string {
	t.Helper()

	body := fmt.Sprintf(`{
		"match_id": %q,
		"seed": %d,
		"combatants": [
			{"id": "hero", "name": "Hero"},
			{"id": "rival", "name": "Rival"}
		]
	}`, matchID, seed)

	resp, err := http.Post(env.ts.URL+"/api/matches", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("create match request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create match returned %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var created struct {
		MatchID string            `json:"match_id"`
		Tokens  map[string]string `json:"tokens"`
		Match   *game.MatchView   `json:"match"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	if created.MatchID != matchID {
		t.Fatalf("created match id = %q, want %q", created.MatchID, matchID)
	}
	if created.Match == nil || !created.Match.WindowOpen {
		t.Fatal("expected an open play window on the created match")
	}
	if len(created.Tokens) != 2 {
		t.Fatalf("expected 2 join tokens, got %d", len(created.Tokens))
	}
	return created.Tokens
}

func (env *serverEnv) dial(t testing.TB) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t testing.TB, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("writing %v: %v", msg["type"], err)
	}
}

func read(t testing.TB, conn *websocket.Conn) wsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading message: %v", err)
	}
	return msg
}

// readUntil skips interleaved snapshots and broadcasts until a message of
// the wanted type arrives.
func readUntil(t testing.TB, conn *websocket.Conn, wantType string) wsMessage {
	t.Helper()
	for i := 0; i < 32; i++ {
		msg := read(t, conn)
		if msg.Type == wantType {
			return msg
		}
	}
	t.Fatalf("no %s message within 32 reads", wantType)
	return wsMessage{}
}

func readUntilEvent(t testing.TB, conn *websocket.Conn, wantType resolve.EventType) wsMessage {
	t.Helper()
	for i := 0; i < 32; i++ {
		msg := read(t, conn)
		if msg.Type == "resolution_event" && msg.Event != nil && msg.Event.Type == wantType {
			return msg
		}
	}
	t.Fatalf("no %s event within 32 reads", wantType)
	return wsMessage{}
}

func waitFor(t testing.TB, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestMatchOverHTTPAndWebSocket drives one full round the way real clients
// do: REST to create the match, WebSocket to play it, REST to inspect the
// result.
func TestMatchOverHTTPAndWebSocket(t *testing.T) {
	env := newServerEnv(t)
	tokens := env.createMatch(t, "duel-1", 7)

	heroConn := env.dial(t)
	rivalConn := env.dial(t)

	send(t, heroConn, map[string]any{
		"type": "join", "match_id": "duel-1", "combatant_id": "hero", "token": tokens["hero"],
	})
	joined := readUntil(t, heroConn, "joined")
	if joined.SessionID == "" {
		t.Error("joined message missing session id")
	}
	if joined.Match == nil || joined.Match.Round != 1 {
		t.Fatalf("joined snapshot = %+v, want round 1", joined.Match)
	}

	send(t, rivalConn, map[string]any{
		"type": "join", "match_id": "duel-1", "combatant_id": "rival", "token": tokens["rival"],
	})
	readUntil(t, rivalConn, "joined")

	// Hero strikes, rival ignites. Strike carries the higher initiative so
	// it must be announced first.
	send(t, heroConn, map[string]any{
		"type": "queue_play", "card_id": "strike", "target_ids": []string{"rival"},
	})
	queued := readUntil(t, heroConn, "queued")
	if queued.ActionID == "" {
		t.Error("queued message missing action id")
	}

	send(t, rivalConn, map[string]any{
		"type": "queue_play", "card_id": "ignite", "target_ids": []string{"hero"},
	})
	readUntil(t, rivalConn, "queued")

	send(t, heroConn, map[string]any{"type": "ready"})
	state := readUntil(t, heroConn, "ready_state")
	if state.AllReady {
		t.Error("all_ready should be false with one combatant pending")
	}

	send(t, rivalConn, map[string]any{"type": "ready"})

	started := readUntilEvent(t, heroConn, resolve.EventResolutionStarted)
	if len(started.Event.Order) != 2 {
		t.Fatalf("announced order has %d actions, want 2", len(started.Event.Order))
	}
	if started.Event.Order[0].SourceID != "hero" || started.Event.Order[0].PayloadRef != "strike" {
		t.Errorf("first announced action = %s/%s, want hero/strike",
			started.Event.Order[0].SourceID, started.Event.Order[0].PayloadRef)
	}
	if started.Event.Order[1].SourceID != "rival" {
		t.Errorf("second announced action from %s, want rival", started.Event.Order[1].SourceID)
	}

	finished := readUntilEvent(t, heroConn, resolve.EventActionFinished)
	if finished.Event.Index != 0 {
		t.Errorf("first finished index = %d, want 0", finished.Event.Index)
	}
	readUntilEvent(t, heroConn, resolve.EventActionFinished)
	readUntilEvent(t, heroConn, resolve.EventResolutionEnded)

	// Both subscribers get the same stream.
	readUntilEvent(t, rivalConn, resolve.EventResolutionEnded)

	// The next window opens asynchronously after the run ends.
	waitFor(t, 3*time.Second, func() bool {
		view, err := env.engine.MatchView("duel-1")
		return err == nil && view.Round == 2 && view.WindowOpen
	}, "round 2 window")

	resp, err := http.Get(env.ts.URL + "/api/matches/duel-1")
	if err != nil {
		t.Fatalf("get match: %v", err)
	}
	defer resp.Body.Close()
	var view game.MatchView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decoding match view: %v", err)
	}

	for _, c := range view.Combatants {
		switch c.ID {
		case "rival":
			// Took strike for 4.
			if c.Health != 16 {
				t.Errorf("rival health = %d, want 16", c.Health)
			}
		case "hero":
			// Took the first burn tick for 2 when the window reopened.
			if c.Health != 18 {
				t.Errorf("hero health = %d, want 18", c.Health)
			}
		}
	}

	burnStacks := 0
	for _, s := range view.Statuses {
		if s.CombatantID == "hero" && s.Kind == "BURN" {
			burnStacks = s.Count
		}
	}
	if burnStacks != 1 {
		t.Errorf("hero burn stacks = %d, want 1 after one tick", burnStacks)
	}

	for _, e := range view.Energy {
		switch e.CombatantID {
		case "hero":
			// 10 - 5 for strike + 3 regen.
			if e.Current != 8 {
				t.Errorf("hero energy = %d, want 8", e.Current)
			}
		case "rival":
			// 10 - 3 for ignite + 3 regen, capped at 10.
			if e.Current != 10 {
				t.Errorf("rival energy = %d, want 10", e.Current)
			}
		}
	}

	if view.Stats.ActionsExecuted != 2 {
		t.Errorf("actions executed = %d, want 2", view.Stats.ActionsExecuted)
	}
	if view.Stats.Runs != 1 {
		t.Errorf("runs = %d, want 1", view.Stats.Runs)
	}
}

// TestMatchRunsToDefeat plays a lopsided duel to the end and checks the
// terminal state plus the journal left on disk.
func TestMatchRunsToDefeat(t *testing.T) {
	env := newServerEnv(t)
	engine := env.engine

	lineup := []game.CombatantSetup{
		{ID: "hero", Name: "Hero", MaxHealth: 20},
		{ID: "rival", Name: "Rival", MaxHealth: 8},
	}
	if err := engine.CreateMatch("duel-2", 11, lineup); err != nil {
		t.Fatalf("create match: %v", err)
	}

	ctx := context.Background()
	for round := 0; round < 10; round++ {
		view, err := engine.MatchView("duel-2")
		if err != nil {
			t.Fatalf("match view: %v", err)
		}
		if view.State == game.MatchStateFinished {
			break
		}
		if _, err := engine.QueuePlay("duel-2", "hero", "strike", []string{"rival"}); err != nil {
			t.Fatalf("round %d: queue strike: %v", round, err)
		}
		if _, err := engine.StartResolution(ctx, "duel-2"); err != nil {
			t.Fatalf("round %d: resolution: %v", round, err)
		}
	}

	view, err := engine.MatchView("duel-2")
	if err != nil {
		t.Fatalf("match view: %v", err)
	}
	if view.State != game.MatchStateFinished {
		t.Fatalf("match state = %s, want %s", view.State, game.MatchStateFinished)
	}
	for _, c := range view.Combatants {
		switch c.ID {
		case "hero":
			if !c.Alive {
				t.Error("hero should have survived")
			}
		case "rival":
			if c.Alive {
				t.Error("rival should be down")
			}
		}
	}
	// Two strikes at 4 damage finish 8 health.
	if view.Stats.Runs != 2 {
		t.Errorf("runs = %d, want 2", view.Stats.Runs)
	}
	if view.Stats.ActionsExecuted != 2 {
		t.Errorf("actions executed = %d, want 2", view.Stats.ActionsExecuted)
	}

	if _, err := engine.QueuePlay("duel-2", "hero", "strike", []string{"rival"}); err == nil {
		t.Error("queueing into a finished match should fail")
	}
	if _, err := engine.StartResolution(ctx, "duel-2"); err == nil {
		t.Error("resolving a finished match should fail")
	}

	journal, err := engine.Journal("duel-2")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	recorded := journal.Size()
	if recorded == 0 {
		t.Fatal("journal recorded no events")
	}

	if err := engine.CloseMatch("duel-2"); err != nil {
		t.Fatalf("close match: %v", err)
	}
	if _, err := engine.MatchView("duel-2"); err == nil {
		t.Fatal("closed match should not resolve to a view")
	}

	loaded, err := game.LoadJournalFromFile(env.journalDir, "duel-2")
	if err != nil {
		t.Fatalf("loading saved journal: %v", err)
	}
	if loaded.Size() != recorded {
		t.Errorf("loaded journal has %d events, want %d", loaded.Size(), recorded)
	}
	if got := len(loaded.RunIDs()); got != 2 {
		t.Errorf("loaded journal has %d runs, want 2", got)
	}
}

// TestMidRunDefeatSkipsQueuedPlay kills a combatant mid-run and checks that
// its already-announced play is skipped rather than executed or dropped.
func TestMidRunDefeatSkipsQueuedPlay(t *testing.T) {
	env := newServerEnv(t)
	engine := env.engine

	lineup := []game.CombatantSetup{
		{ID: "hero", Name: "Hero", MaxHealth: 20},
		{ID: "rival", Name: "Rival", MaxHealth: 4},
	}
	if err := engine.CreateMatch("duel-4", 5, lineup); err != nil {
		t.Fatalf("create match: %v", err)
	}

	// Strike resolves first on initiative and defeats the rival, so the
	// rival's ignite must be announced but skipped.
	if _, err := engine.QueuePlay("duel-4", "hero", "strike", []string{"rival"}); err != nil {
		t.Fatalf("queue strike: %v", err)
	}
	if _, err := engine.QueuePlay("duel-4", "rival", "ignite", []string{"hero"}); err != nil {
		t.Fatalf("queue ignite: %v", err)
	}

	report, err := engine.StartResolution(context.Background(), "duel-4")
	if err != nil {
		t.Fatalf("resolution: %v", err)
	}
	if report.Drained != 2 {
		t.Fatalf("drained = %d, want 2", report.Drained)
	}
	if report.Executed != 1 || report.Skipped != 1 {
		t.Errorf("executed/skipped = %d/%d, want 1/1", report.Executed, report.Skipped)
	}

	view, err := engine.MatchView("duel-4")
	if err != nil {
		t.Fatalf("match view: %v", err)
	}
	if view.State != game.MatchStateFinished {
		t.Errorf("match state = %s, want %s", view.State, game.MatchStateFinished)
	}
	for _, c := range view.Combatants {
		if c.ID == "hero" && c.Health != 20 {
			t.Errorf("hero health = %d, want untouched 20", c.Health)
		}
	}
	if got := view.Stats.SkipReasons[resolve.ReasonContextEnded]; got != 1 {
		t.Errorf("%s skips = %d, want 1", resolve.ReasonContextEnded, got)
	}
}

// TestSeatHandoffAfterDisconnect covers the reconnect path: dropping a
// connection frees the seat so the same combatant can join again.
func TestSeatHandoffAfterDisconnect(t *testing.T) {
	env := newServerEnv(t)
	tokens := env.createMatch(t, "duel-3", 3)

	first := env.dial(t)
	send(t, first, map[string]any{
		"type": "join", "match_id": "duel-3", "combatant_id": "hero", "token": tokens["hero"],
	})
	readUntil(t, first, "joined")
	first.Close()

	// The gateway notices the close asynchronously.
	second := env.dial(t)
	waitFor(t, 3*time.Second, func() bool {
		send(t, second, map[string]any{
			"type": "join", "match_id": "duel-3", "combatant_id": "hero", "token": tokens["hero"],
		})
		msg := read(t, second)
		return msg.Type == "joined"
	}, "seat to free up")
}
