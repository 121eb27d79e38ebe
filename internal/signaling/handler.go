package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handler routes incoming relay messages and exposes the relay connection
// as a Transport for one room.
type Handler struct {
	client *Client

	JoinSuccess chan *JoinPayload
	PeerJoined  chan Role
	PeerLeft    chan Role
	Error       chan string

	mu      sync.Mutex
	roomID  string
	role    Role
	subs    map[*relaySubscription]struct{}
	pending map[string]chan *Signal
	done    chan struct{}
	closed  bool
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:      client,
		JoinSuccess: make(chan *JoinPayload, 1),
		PeerJoined:  make(chan Role, 4),
		PeerLeft:    make(chan Role, 4),
		Error:       make(chan string, 4),
		subs:        make(map[*relaySubscription]struct{}),
		pending:     make(map[string]chan *Signal),
		done:        make(chan struct{}),
	}
}

// Start begins listening to incoming messages and routing them. It returns
// when the client's incoming channel closes.
func (h *Handler) Start() {
	for msg := range h.client.Incoming() {
		switch msg.Type {
		case MessageTypeJoinSuccess:
			h.handleJoinSuccess(msg)

		case MessageTypePeerJoined:
			offer(h.PeerJoined, msg.Role)

		case MessageTypePeerLeft:
			offer(h.PeerLeft, msg.Role)

		case MessageTypeSignal:
			h.handleSignal(msg)

		case MessageTypeLatestOffer:
			h.handleLatestOffer(msg)

		case MessageTypeError:
			h.handleError(msg)
		}
	}
	h.Close()
}

func (h *Handler) handleJoinSuccess(msg *Message) {
	var info JoinPayload
	if len(msg.Payload) > 0 {
		_ = msg.DecodePayload(&info)
	}
	if info.RoomID == "" {
		info.RoomID = msg.RoomID
	}
	offer(h.JoinSuccess, &info)
}

func (h *Handler) handleSignal(msg *Message) {
	var sig Signal
	if err := msg.DecodePayload(&sig); err != nil {
		h.client.log.Warn("dropping malformed signal", "error", err)
		return
	}

	h.mu.Lock()
	subs := make([]*relaySubscription, 0, len(h.subs))
	for sub := range h.subs {
		if sub.roomID == sig.RoomID {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range subs {
		cp := sig
		sub.push(&cp)
	}
}

func (h *Handler) handleLatestOffer(msg *Message) {
	var sig *Signal
	if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
		sig = new(Signal)
		if err := msg.DecodePayload(sig); err != nil {
			h.client.log.Warn("malformed latest_offer", "error", err)
			sig = nil
		}
	}

	h.mu.Lock()
	ch, ok := h.pending[msg.RequestID]
	delete(h.pending, msg.RequestID)
	h.mu.Unlock()

	if ok {
		ch <- sig
	}
}

func (h *Handler) handleError(msg *Message) {
	var errPayload ErrorPayload
	if err := msg.DecodePayload(&errPayload); err != nil || errPayload.Error == "" {
		errPayload.Error = "unknown error from relay"
	}
	offer(h.Error, errPayload.Error)
}

// Join asks the relay to seat this participant in roomID and waits for the
// outcome. token is only required for the admin seat.
func (h *Handler) Join(ctx context.Context, roomID string, role Role, token string) (*JoinPayload, error) {
	h.mu.Lock()
	h.roomID, h.role = roomID, role
	h.mu.Unlock()

	msg := &Message{Type: MessageTypeJoinRoom, RoomID: roomID, Role: role, Token: token}
	if err := h.client.Send(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case info := <-h.JoinSuccess:
		h.mu.Lock()
		h.roomID = info.RoomID
		h.mu.Unlock()
		return info, nil
	case reason := <-h.Error:
		return nil, fmt.Errorf("%w: %s", ErrServer, reason)
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Publish sends sig to the other member of its room.
func (h *Handler) Publish(ctx context.Context, sig *Signal) error {
	h.mu.Lock()
	if sig.RoomID == "" {
		sig.RoomID = h.roomID
	}
	if sig.SenderRole == "" {
		sig.SenderRole = h.role
	}
	h.mu.Unlock()

	msg, err := NewMessage(MessageTypeSignal, sig)
	if err != nil {
		return err
	}
	msg.RoomID = sig.RoomID
	msg.Role = sig.SenderRole
	return h.client.Send(ctx, msg)
}

// Subscribe streams signals relayed for roomID.
func (h *Handler) Subscribe(_ context.Context, roomID string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	sub := &relaySubscription{h: h, roomID: roomID, ch: make(chan *Signal, 64), stop: make(chan struct{})}
	h.subs[sub] = struct{}{}
	return sub, nil
}

// FetchLatestOffer asks the relay for the room's stored offer and waits for
// the correlated reply.
func (h *Handler) FetchLatestOffer(ctx context.Context, roomID string, excluding Role) (*Signal, error) {
	id := uuid.NewString()
	reply := make(chan *Signal, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.pending[id] = reply
	h.mu.Unlock()

	forget := func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}

	msg := &Message{Type: MessageTypeFetchOffer, RoomID: roomID, Role: excluding, RequestID: id}
	if err := h.client.Send(ctx, msg); err != nil {
		forget()
		return nil, err
	}

	select {
	case sig, ok := <-reply:
		if !ok {
			return nil, ErrClosed
		}
		return sig, nil
	case <-ctx.Done():
		forget()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Close ends every subscription and pending lookup.
func (h *Handler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	pending := h.pending
	h.subs = map[*relaySubscription]struct{}{}
	h.pending = map[string]chan *Signal{}
	h.mu.Unlock()

	for sub := range subs {
		sub.closeChan()
	}
	for _, ch := range pending {
		close(ch)
	}
	close(h.done)
}

// Done is closed once the relay connection is gone.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

type relaySubscription struct {
	h      *Handler
	roomID string
	ch     chan *Signal

	// stop unblocks a pending push; ch is closed only after it fires.
	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	done     bool
}

func (s *relaySubscription) Signals() <-chan *Signal {
	return s.ch
}

// push delivers sig in order, waiting for a slow reader rather than losing
// it. It gives up once the subscription or the handler is closed.
func (s *relaySubscription) push(sig *Signal) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.done {
		return
	}
	select {
	case s.ch <- sig:
	case <-s.stop:
	case <-s.h.done:
	}
}

func (s *relaySubscription) closeChan() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.ch)
	}
}

func (s *relaySubscription) Close() error {
	s.h.mu.Lock()
	delete(s.h.subs, s)
	s.h.mu.Unlock()
	s.closeChan()
	return nil
}

// offer performs a non-blocking send so a slow reader never stalls routing.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
