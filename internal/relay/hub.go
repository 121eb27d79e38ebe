// Package relay is the websocket server that seats two participants per room
// and relays call signals between them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hari1098/snaptalks/internal/signaling"
)

const storeTimeout = 2 * time.Second

// Hub owns every room. All room state is touched only by Run.
type Hub struct {
	rooms map[string]*Room
	store OfferStore
	auth  *Auth
	log   *slog.Logger

	register   chan *Conn
	unregister chan *Conn
	inbound    chan inbound
	done       chan struct{}
}

// NewHub creates a hub backed by store. A nil auth seats admins without a token.
func NewHub(store OfferStore, auth *Auth) *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		store:      store,
		auth:       auth,
		log:        slog.Default().With("component", "relay"),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
	}
}

// Run is the single goroutine that manages rooms and connections.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	conns := make(map[*Conn]struct{})
	for {
		select {
		case <-ctx.Done():
			for c := range conns {
				close(c.send)
			}
			return

		case c := <-h.register:
			conns[c] = struct{}{}
			c.log.Debug("connection registered")

		case c := <-h.unregister:
			if _, ok := conns[c]; !ok {
				continue
			}
			delete(conns, c)
			h.leave(ctx, c)
			close(c.send)
			c.log.Debug("connection unregistered")

		case in := <-h.inbound:
			h.dispatch(ctx, in.conn, in.msg)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Conn, msg *signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeJoinRoom:
		h.join(c, msg)
	case signaling.MessageTypeSignal:
		h.relay(ctx, c, msg)
	case signaling.MessageTypeFetchOffer:
		h.fetchOffer(ctx, c, msg)
	default:
		c.log.Warn("unknown message type", "type", msg.Type)
		h.sendError(c, "unknown message type")
	}
}

func (h *Hub) join(c *Conn, msg *signaling.Message) {
	if c.roomID != "" {
		h.sendError(c, "already in a room")
		return
	}
	if !msg.Role.Valid() {
		h.sendError(c, "role must be admin or client")
		return
	}
	if msg.Role == signaling.RoleAdmin && h.auth != nil {
		if err := h.auth.Verify(msg.Token); err != nil {
			c.log.Warn("admin join refused", "error", err)
			h.sendError(c, "unauthorized")
			return
		}
	}

	roomID := msg.RoomID
	room, ok := h.rooms[roomID]
	switch {
	case roomID == "" && msg.Role == signaling.RoleAdmin:
		roomID = newRoomID(func(id string) bool { _, taken := h.rooms[id]; return taken })
		room = &Room{ID: roomID}
		h.rooms[roomID] = room
		c.log.Info("room created", "room", roomID)
	case roomID == "":
		h.sendError(c, "room id required")
		return
	case !ok && msg.Role == signaling.RoleAdmin:
		room = &Room{ID: roomID}
		h.rooms[roomID] = room
		c.log.Info("room opened", "room", roomID)
	case !ok:
		h.sendError(c, "room not found")
		return
	}

	if room.seat(msg.Role) != nil {
		h.sendError(c, "seat already taken")
		return
	}
	room.setSeat(msg.Role, c)
	c.roomID, c.role = roomID, msg.Role
	c.log.Info("joined room", "room", roomID, "role", msg.Role)

	other := room.other(msg.Role)
	reply, _ := signaling.NewMessage(signaling.MessageTypeJoinSuccess, signaling.JoinPayload{
		RoomID:      roomID,
		PeerPresent: other != nil,
	})
	reply.RoomID, reply.Role = roomID, msg.Role
	h.send(c, reply)

	if other != nil {
		h.send(other, &signaling.Message{Type: signaling.MessageTypePeerJoined, RoomID: roomID, Role: msg.Role})
	}
}

// relay stamps the sender's room and role onto the signal, keeps offers for
// late joiners, and forwards it to the other seat.
func (h *Hub) relay(ctx context.Context, c *Conn, msg *signaling.Message) {
	room, ok := h.rooms[c.roomID]
	if !ok {
		h.sendError(c, "you must join a room first")
		return
	}

	var sig signaling.Signal
	if err := msg.DecodePayload(&sig); err != nil {
		h.sendError(c, "malformed signal")
		return
	}
	sig.RoomID, sig.SenderRole = room.ID, c.role

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	var err error
	switch {
	case sig.Kind == signaling.KindOffer:
		err = h.store.Save(sctx, &sig)
	case signaling.ConsumesOffers(sig.Kind):
		err = h.store.Clear(sctx, room.ID)
	}
	if err != nil {
		c.log.Warn("offer store failed", "kind", sig.Kind, "error", err)
	}

	target := room.other(c.role)
	if target == nil {
		c.log.Debug("no peer to relay to", "room", room.ID, "kind", sig.Kind)
		return
	}
	out, err := signaling.NewMessage(signaling.MessageTypeSignal, &sig)
	if err != nil {
		c.log.Error("encode signal", "error", err)
		return
	}
	out.RoomID, out.Role = room.ID, c.role
	h.send(target, out)
}

func (h *Hub) fetchOffer(ctx context.Context, c *Conn, msg *signaling.Message) {
	if _, ok := h.rooms[c.roomID]; !ok {
		h.sendError(c, "you must join a room first")
		return
	}

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	offer, err := h.store.Latest(sctx, c.roomID, c.role)
	if err != nil {
		c.log.Warn("offer lookup failed", "error", err)
		offer = nil
	}

	reply := &signaling.Message{
		Type:      signaling.MessageTypeLatestOffer,
		RoomID:    c.roomID,
		RequestID: msg.RequestID,
		Payload:   json.RawMessage("null"),
	}
	if offer != nil {
		if b, err := json.Marshal(offer); err == nil {
			reply.Payload = b
		}
	}
	h.send(c, reply)
}

// leave frees c's seat, tells the other seat, and drops empty rooms.
func (h *Hub) leave(ctx context.Context, c *Conn) {
	room, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	if room.seat(c.role) == c {
		room.setSeat(c.role, nil)
	}

	if room.empty() {
		delete(h.rooms, room.ID)
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := h.store.Clear(sctx, room.ID); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("clear offers", "room", room.ID, "error", err)
		}
		c.log.Info("room closed", "room", room.ID)
		return
	}
	if other := room.other(c.role); other != nil {
		h.send(other, &signaling.Message{Type: signaling.MessageTypePeerLeft, RoomID: room.ID, Role: c.role})
	}
}

// send never blocks the hub; a connection that cannot keep up loses messages.
func (h *Hub) send(c *Conn, msg *signaling.Message) {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("send buffer full, dropping message", "type", msg.Type)
	}
}

func (h *Hub) sendError(c *Conn, reason string) {
	msg, _ := signaling.NewMessage(signaling.MessageTypeError, signaling.ErrorPayload{Error: reason})
	h.send(c, msg)
}
