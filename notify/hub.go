package notify

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/processtalk/bpmnflow/contracts"
)

// SystemRoom receives broadcast events every subscriber joins.
const SystemRoom = "system"

const sendBuffer = 32

// Conn is the transport a session writes frames to.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Frame is the wire format for every outbound message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// SubscribeAck confirms a subscription: the session identity and the rooms
// it joined.
type SubscribeAck struct {
	Status   string   `json:"status"`
	Identity string   `json:"identity"`
	Rooms    []string `json:"rooms"`
}

// Session is one connected client. Identity is assigned on connect and
// doubles as the private room name. closed is guarded by the hub mutex;
// once set, the send channel is closed and no deliver may write to it.
type Session struct {
	ID       string
	Identity string
	conn     Conn
	send     chan Frame
	closed   bool
}

// Hub tracks sessions and room membership.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session
	logger   *slog.Logger
}

// HubOption configures the hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub creates an empty hub.
func NewHub(options ...HubOption) *Hub {
	h := &Hub{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

// Connect registers a connection, assigns it an identity, and starts its
// write pump.
func (h *Hub) Connect(conn Conn) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		Identity: uuid.NewString(),
		conn:     conn,
		send:     make(chan Frame, sendBuffer),
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	go h.writePump(s)

	h.logger.Debug("session connected", "sessionId", s.ID)
	return s
}

// Subscribe joins the session into the system room and its private room
// and acknowledges with the room list. A session without identity is
// disconnected without acknowledgement.
func (h *Hub) Subscribe(s *Session) {
	if s.Identity == "" {
		h.logger.Warn("subscribe without identity, disconnecting", "sessionId", s.ID)
		h.Disconnect(s)
		return
	}

	rooms := []string{SystemRoom, s.Identity}

	h.mu.Lock()
	for _, room := range rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[string]*Session)
		}
		h.rooms[room][s.ID] = s
	}
	h.mu.Unlock()

	h.deliver(s, Frame{
		Event: "subscribed",
		Data: SubscribeAck{
			Status:   "OK",
			Identity: s.Identity,
			Rooms:    rooms,
		},
	})
}

// Disconnect removes the session from all rooms and closes its
// connection.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID)
	for room, members := range h.rooms {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if !s.closed {
		s.closed = true
		close(s.send)
	}
	h.mu.Unlock()

	h.logger.Debug("session disconnected", "sessionId", s.ID)
}

// Emit publishes a pipeline event to every session in the room. Delivery
// is at most once: a full session buffer drops the event for that
// session.
func (h *Hub) Emit(room string, event contracts.PipelineEvent) {
	h.mu.RLock()
	members := make([]*Session, 0, len(h.rooms[room]))
	for _, s := range h.rooms[room] {
		members = append(members, s)
	}
	h.mu.RUnlock()

	frame := Frame{Event: "pipeline", Data: event}
	for _, s := range members {
		h.deliver(s, frame)
	}
}

// RoomSize reports the number of sessions in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// deliver writes a frame to the session buffer. Holding the read lock
// while sending keeps the channel open for the duration: Disconnect
// closes it only under the write lock.
func (h *Hub) deliver(s *Session, frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if s.closed {
		return
	}

	select {
	case s.send <- frame:
	default:
		h.logger.Warn("dropping event, session buffer full",
			"sessionId", s.ID,
			"event", frame.Event)
	}
}

func (h *Hub) writePump(s *Session) {
	for frame := range s.send {
		if err := s.conn.WriteJSON(frame); err != nil {
			h.logger.Debug("write failed, disconnecting",
				"sessionId", s.ID,
				"error", err)
			h.Disconnect(s)
			break
		}
	}
	s.conn.Close()
}
