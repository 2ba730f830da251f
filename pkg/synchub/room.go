package synchub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/storage"
)

const writeTimeout = 5 * time.Second

// Client is one socket's membership in a room.
type Client struct {
	id        string
	conn      Conn
	user      string
	mode      models.Mode
	connected bool
}

// User returns the client's display name (set by its connect message).
func (c *Client) User() string { return c.user }

// Mode returns the client's stream mode.
func (c *Client) Mode() models.Mode { return c.mode }

// Room is one project's collaborative group. All room state is guarded by
// mu; socket writes happen outside the lock so one slow client cannot stall
// the room.
type Room struct {
	mu  sync.Mutex
	key models.ProjectContext

	docs     storage.DocStore
	debounce time.Duration
	onEmpty  func()

	clients  map[string]*Client
	pending  map[string]map[string]any // mode → last uncommitted payload
	gen      map[string]uint64         // mode → pending generation
	hydrated map[string]bool           // mode → durable state already loaded
	timers   map[string]*time.Timer    // "projectKey:mode" → scheduled save
	editors  map[string]string         // card id → user
}

func newRoom(key models.ProjectContext, docs storage.DocStore, debounce time.Duration, onEmpty func()) *Room {
	return &Room{
		key:      key,
		docs:     docs,
		debounce: debounce,
		onEmpty:  onEmpty,
		clients:  make(map[string]*Client),
		pending:  make(map[string]map[string]any),
		gen:      make(map[string]uint64),
		hydrated: make(map[string]bool),
		timers:   make(map[string]*time.Timer),
		editors:  make(map[string]string),
	}
}

// Join adds a socket to the room. The client is not addressable by state
// messages until its connect message arrives.
func (r *Room) Join(conn Conn) *Client {
	c := &Client{id: uuid.NewString(), conn: conn, mode: models.ModeLaboratory}
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()
	return c
}

// Leave removes a socket, releasing any cards it was editing. The last
// client out flushes pending state and retires the room.
func (r *Room) Leave(c *Client) {
	r.mu.Lock()
	delete(r.clients, c.id)
	for cardID, user := range r.editors {
		if user == c.user && c.user != "" {
			delete(r.editors, cardID)
		}
	}
	empty := len(r.clients) == 0
	r.mu.Unlock()

	if empty {
		r.FlushAll()
		if r.onEmpty != nil {
			r.onEmpty()
		}
	}
}

// Handle processes one client message.
func (r *Room) Handle(ctx context.Context, c *Client, raw []byte) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return r.sendError(ctx, c, "malformed message")
	}

	if msg.Type != MsgConnect && msg.Type != MsgHeartbeat && !c.connected {
		return r.sendError(ctx, c, "connect required before state messages")
	}

	switch msg.Type {
	case MsgConnect:
		return r.handleConnect(ctx, c, msg)
	case MsgStateUpdate:
		return r.handleStateUpdate(ctx, c, msg)
	case MsgCardUpdate:
		return r.handleCardUpdate(ctx, c, msg)
	case MsgFullSync:
		return r.handleFullSync(ctx, c, msg)
	case MsgCardFocus, MsgCardBlur:
		return r.handleFocus(ctx, c, msg)
	case MsgHeartbeat:
		return r.send(ctx, c, Message{Type: MsgHeartbeat, Timestamp: now()})
	default:
		return r.sendError(ctx, c, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (r *Room) handleConnect(ctx context.Context, c *Client, msg Message) error {
	mode := models.Mode(msg.Mode)
	if !mode.Valid() {
		mode = models.ModeLaboratory
	}

	r.mu.Lock()
	c.user = msg.User
	c.mode = mode
	c.connected = true
	users := r.userListLocked()
	r.mu.Unlock()

	r.broadcast(ctx, nil, "", Message{Type: MsgConnect, User: msg.User, Users: users, Mode: string(mode)})
	return nil
}

func (r *Room) handleStateUpdate(ctx context.Context, c *Client, msg Message) error {
	mode := c.modeFor(msg)
	payload := dedupePayloadCards(msg.Payload)

	r.mu.Lock()
	r.setPendingLocked(mode, payload)
	r.scheduleLocked(mode)
	r.mu.Unlock()

	msg.Payload = payload
	msg.Mode = mode
	r.broadcast(ctx, c, mode, msg)
	return nil
}

func (r *Room) handleCardUpdate(ctx context.Context, c *Client, msg Message) error {
	if msg.CardID == "" {
		return r.sendError(ctx, c, "card_update requires card_id")
	}
	mode := c.modeFor(msg)

	r.mu.Lock()
	if len(r.pending[mode]) == 0 && !r.hydrated[mode] {
		r.hydrated[mode] = true
		r.mu.Unlock()
		r.hydrate(ctx, mode)
		r.mu.Lock()
	}
	state := r.pending[mode]
	if state == nil {
		state = make(map[string]any)
	}
	state["cards"] = spliceCard(state["cards"], msg.CardID, msg.Payload)
	r.setPendingLocked(mode, state)
	r.scheduleLocked(mode)
	r.mu.Unlock()

	msg.Mode = mode
	r.broadcast(ctx, c, mode, msg)
	return nil
}

func (r *Room) handleFullSync(ctx context.Context, c *Client, msg Message) error {
	mode := c.modeFor(msg)
	payload := dedupePayloadCards(msg.Payload)

	r.mu.Lock()
	r.setPendingLocked(mode, payload)
	r.scheduleLocked(mode)
	r.mu.Unlock()

	msg.Payload = payload
	msg.Mode = mode
	r.broadcast(ctx, c, mode, msg)
	return nil
}

func (r *Room) handleFocus(ctx context.Context, c *Client, msg Message) error {
	if msg.CardID == "" {
		return r.sendError(ctx, c, msg.Type+" requires card_id")
	}
	user := msg.User
	if user == "" {
		user = c.user
	}

	r.mu.Lock()
	if msg.Type == MsgCardFocus {
		r.editors[msg.CardID] = user
	} else {
		delete(r.editors, msg.CardID)
	}
	r.mu.Unlock()

	msg.User = user
	r.broadcast(ctx, c, "", msg)
	return nil
}

// Editors returns a copy of the card → editor map.
func (r *Room) Editors() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.editors))
	for k, v := range r.editors {
		out[k] = v
	}
	return out
}

// hydrate seeds a mode's pending state from the durable store so the first
// card_update of a collaborative session patches real state rather than an
// empty document.
func (r *Room) hydrate(ctx context.Context, mode string) {
	state, err := r.docs.LoadProjectState(ctx, r.stateKey(mode))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("Failed to hydrate project state",
				"project_key", r.key.Key(), "mode", mode, "error", err)
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending[mode]) > 0 {
		return
	}
	r.setPendingLocked(mode, payloadFromState(state))
}

// setPendingLocked records a new pending payload and bumps its generation
// so an in-flight persist of an older payload cannot clear it.
func (r *Room) setPendingLocked(mode string, payload map[string]any) {
	r.pending[mode] = payload
	r.gen[mode]++
}

// broadcast fans a message out to every other connected client, filtered to
// one mode when mode is non-empty. Write failures are logged and skipped;
// dead sockets are reaped by their read loops.
func (r *Room) broadcast(ctx context.Context, sender *Client, mode string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal sync message", "type", msg.Type, "error", err)
		return
	}

	r.mu.Lock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if sender != nil && c.id == sender.id {
			continue
		}
		if !c.connected {
			continue
		}
		if mode != "" && string(c.mode) != mode {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		if err := c.conn.Write(wctx, data); err != nil {
			slog.Debug("Dropping sync write to dead socket",
				"project_key", r.key.Key(), "user", c.user, "error", err)
		}
		cancel()
	}
}

func (r *Room) send(ctx context.Context, c *Client, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal sync message: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, data)
}

func (r *Room) sendError(ctx context.Context, c *Client, reason string) error {
	return r.send(ctx, c, Message{Type: MsgError, Payload: map[string]any{"message": reason}})
}

func (r *Room) userListLocked() []string {
	users := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		if c.connected && c.user != "" {
			users = append(users, c.user)
		}
	}
	return users
}

func (c *Client) modeFor(msg Message) string {
	if m := models.Mode(msg.Mode); m.Valid() {
		return string(m)
	}
	return string(c.mode)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// spliceCard replaces the card with the given id in place, appending when
// absent, then dedupes keeping the last occurrence.
func spliceCard(cards any, cardID string, payload map[string]any) []any {
	list, _ := cards.([]any)
	card := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		card[k] = v
	}
	card["id"] = cardID

	replaced := false
	for i, entry := range list {
		if m, ok := entry.(map[string]any); ok && storage.Card(m).CardID() == cardID {
			list[i] = card
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, card)
	}
	return dedupeAnyCards(list)
}

// dedupePayloadCards dedupes the "cards" list inside a state payload.
func dedupePayloadCards(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	if list, ok := payload["cards"].([]any); ok {
		payload["cards"] = dedupeAnyCards(list)
	}
	return payload
}

func dedupeAnyCards(list []any) []any {
	cards := make([]storage.Card, 0, len(list))
	passthrough := make([]any, 0)
	for _, entry := range list {
		if m, ok := entry.(map[string]any); ok {
			cards = append(cards, storage.Card(m))
		} else {
			passthrough = append(passthrough, entry)
		}
	}
	deduped := storage.DedupeCards(cards)
	out := make([]any, 0, len(deduped)+len(passthrough))
	for _, c := range deduped {
		out = append(out, map[string]any(c))
	}
	return append(out, passthrough...)
}
