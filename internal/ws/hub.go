package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/emandor/lemme_grader/internal/grading"
)

type Action string

const (
	ActionJoin  Action = "join"
	ActionLeave Action = "leave"
)

const (
	// RoomRuns receives the events of every run.
	RoomRuns = "runs"
	// RoomRunPrefix + run id receives the events of one run.
	RoomRunPrefix = "run."
)

type Event string

const (
	EventLog      Event = "grading.event.log"
	EventProgress Event = "grading.event.progress"
	EventResult   Event = "grading.event.result"
	EventTerminal Event = "grading.event.terminal"
	EventSummary  Event = "grading.event.summary"
)

var eventNames = map[grading.EventType]Event{
	grading.EventLog:      EventLog,
	grading.EventProgress: EventProgress,
	grading.EventResult:   EventResult,
	grading.EventTerminal: EventTerminal,
	grading.EventSummary:  EventSummary,
}

type PayloadEvent struct {
	Event Event     `json:"event"`
	RunID string    `json:"run_id,omitempty"`
	At    time.Time `json:"at"`
	Data  any       `json:"data,omitempty"`
}

type ClientMessage struct {
	Action Action `json:"action"`
	Room   string `json:"room"`
}

// Conn is the write side of a websocket connection.
type Conn interface {
	WriteJSON(v any) error
}

// client serializes writes; a websocket connection allows one writer.
type client struct {
	mu   sync.Mutex
	conn Conn
}

func (c *client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub fans grading events out to websocket subscribers by room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
	log   zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{rooms: map[string]map[*client]struct{}{}, log: log}
}

func (h *Hub) HandleWS(c *websocket.Conn) {
	cl := &client{conn: c}
	h.log.Info().Str("ip", c.RemoteAddr().String()).Msg("ws_connected")
	defer func() {
		h.drop(cl)
		_ = c.Close()
		h.log.Info().Msg("ws_disconnected")
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}
		h.dispatch(cl, msg)
	}
}

func (h *Hub) dispatch(cl *client, msg []byte) {
	var cm ClientMessage
	if err := json.Unmarshal(msg, &cm); err != nil {
		return
	}
	switch cm.Action {
	case ActionJoin:
		h.join(cl, cm.Room)
	case ActionLeave:
		h.leave(cl, cm.Room)
	}
}

func (h *Hub) join(cl *client, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = map[*client]struct{}{}
	}
	h.rooms[room][cl] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("room", room).Msg("ws_room_joined")
}

func (h *Hub) leave(cl *client, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	delete(h.rooms[room], cl)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
	h.mu.Unlock()
	h.log.Debug().Str("room", room).Msg("ws_room_left")
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	for room, conns := range h.rooms {
		delete(conns, cl)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast writes pl to every member of the given rooms, once per client.
func (h *Hub) Broadcast(pl PayloadEvent, rooms ...string) {
	h.mu.RLock()
	seen := map[*client]struct{}{}
	var targets []*client
	for _, room := range rooms {
		for cl := range h.rooms[room] {
			if _, ok := seen[cl]; ok {
				continue
			}
			seen[cl] = struct{}{}
			targets = append(targets, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range targets {
		if err := cl.send(pl); err != nil {
			h.log.Debug().Err(err).Str("event", string(pl.Event)).Msg("ws_write_failed")
		}
	}
}

// Emit implements grading.Sink.
func (h *Hub) Emit(e grading.Event) {
	name, ok := eventNames[e.Type]
	if !ok {
		return
	}
	h.Broadcast(PayloadEvent{Event: name, RunID: e.RunID, At: e.At, Data: e.Data},
		RoomRunPrefix+e.RunID, RoomRuns)
}
