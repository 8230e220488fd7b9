package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("signaling channel closed")
)

// JoinError is a fatal join rejection: room_not_found, room_full or
// bad_token. The caller redirects away from the session.
type JoinError struct {
	Reason string
}

func (e *JoinError) Error() string { return "join rejected: " + e.Reason }

// JoinInfo is the successful join handshake result.
type JoinInfo struct {
	Self       domain.PeerID
	UserID     domain.UserID
	Roster     domain.Roster
	ICEServers []webrtc.ICEServer
}

// Events are the inbound callbacks. The client dispatches and nothing
// else; all meeting logic stays with the subscriber.
type Events struct {
	OnRoster       func(domain.Roster)
	OnPeerJoined   func(PeerJoinedPayload)
	OnPeerLeft     func(PeerLeftPayload)
	OnOffer        func(from domain.PeerID, sdp webrtc.SessionDescription, fromName string)
	OnAnswer       func(from domain.PeerID, sdp webrtc.SessionDescription)
	OnCandidate    func(from domain.PeerID, cand webrtc.ICECandidateInit)
	OnControl      func(domain.ControlCommand)
	OnChat         func(ChatPayload)
	OnICEServers   func([]webrtc.ICEServer)
	OnSessionEnded func()
	OnClosed       func(error)
}

type Options struct {
	URL        string
	Attempts   int
	Backoff    time.Duration
	AckTimeout time.Duration
}

type pendingAck struct {
	fn    func(ok bool)
	timer *time.Timer
}

// Client is the websocket signaling adapter. Connect performs the join
// handshake; Run starts the pumps that service sends and dispatch events.
type Client struct {
	opts   Options
	events Events

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu         sync.Mutex
	closed     bool
	userClosed bool
	acks       map[string]*pendingAck
}

func New(opts Options, events Events) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	return &Client{
		opts:   opts,
		events: events,
		send:   make(chan []byte, 32),
		done:   make(chan struct{}),
		acks:   make(map[string]*pendingAck),
	}
}

// Connect dials the room endpoint with bounded exponential backoff and
// performs the join handshake. Events do not flow until Run is called.
func (c *Client) Connect(ctx context.Context, room domain.RoomID, self JoinPayload) (*JoinInfo, error) {
	url := strings.TrimRight(c.opts.URL, "/") + "/" + string(room)

	var (
		conn *websocket.Conn
		err  error
	)
	backoff := c.opts.Backoff
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			break
		}
		log.Warn().Err(err).Str("module", "signal").Int("attempt", attempt).Str("url", url).Msg("dial failed")
		if attempt == c.opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	env, err := NewEnvelope(EventJoin, "", self)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(env); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ackEnv Envelope
	if err := conn.ReadJSON(&ackEnv); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read join ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if ackEnv.Kind != EventJoinAck {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected handshake message %q", ackEnv.Kind)
	}
	var ack JoinAckPayload
	if err := json.Unmarshal(ackEnv.Payload, &ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("decode join ack: %w", err)
	}
	if !ack.OK {
		_ = conn.Close()
		return nil, &JoinError{Reason: ack.Reason}
	}

	c.conn = conn
	log.Info().Str("module", "signal").Str("self", ack.Self.String()).Str("room", string(room)).Msg("joined")
	return &JoinInfo{
		Self:       ack.Self,
		UserID:     ack.UserID,
		Roster:     ack.Roster,
		ICEServers: ICEServersPayload{Servers: ack.ICEServers}.WebRTC(),
	}, nil
}

// Run starts the read and write pumps. Call after Connect succeeded and
// the event subscriber is wired.
func (c *Client) Run() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) enqueue(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	// The send must happen under the lock: teardown takes it before
	// closing the channel.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) sendTo(kind EventKind, to domain.PeerID, payload any) error {
	env, err := NewEnvelope(kind, to, payload)
	if err != nil {
		return err
	}
	return c.enqueue(env)
}

func (c *Client) SendOffer(to domain.PeerID, sdp webrtc.SessionDescription, fromName string) error {
	return c.sendTo(EventOffer, to, SDPPayload{Type: sdp.Type.String(), SDP: sdp.SDP, FromName: fromName})
}

func (c *Client) SendAnswer(to domain.PeerID, sdp webrtc.SessionDescription) error {
	return c.sendTo(EventAnswer, to, SDPPayload{Type: sdp.Type.String(), SDP: sdp.SDP})
}

func (c *Client) SendCandidate(to domain.PeerID, cand webrtc.ICECandidateInit) error {
	return c.sendTo(EventCandidate, to, CandidateFromInit(cand))
}

func (c *Client) SendControl(cmd domain.ControlCommand) error {
	return c.sendTo(EventControl, "", cmd)
}

// SendChat attaches a message id and fires ack when the relay confirms
// delivery, or with ok=false when the confirmation never arrives.
func (c *Client) SendChat(text string, ack func(ok bool)) error {
	id := uuid.NewString()
	if ack != nil {
		p := &pendingAck{fn: ack}
		p.timer = time.AfterFunc(c.opts.AckTimeout, func() { c.fireAck(id, false) })
		c.mu.Lock()
		c.acks[id] = p
		c.mu.Unlock()
	}
	if err := c.sendTo(EventChat, "", ChatPayload{ID: id, Text: text}); err != nil {
		c.cancelAck(id)
		return err
	}
	return nil
}

func (c *Client) SendLeave() error {
	return c.sendTo(EventLeave, "", nil)
}

func (c *Client) fireAck(id string, ok bool) {
	c.mu.Lock()
	p := c.acks[id]
	delete(c.acks, id)
	c.mu.Unlock()
	if p == nil {
		return
	}
	p.timer.Stop()
	p.fn(ok)
}

func (c *Client) cancelAck(id string) {
	c.mu.Lock()
	p := c.acks[id]
	delete(c.acks, id)
	c.mu.Unlock()
	if p != nil {
		p.timer.Stop()
	}
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			return
		}
	}
}

func (c *Client) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.teardown(err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad envelope")
		return
	}

	switch env.Kind {
	case EventRoster:
		var r domain.Roster
		if decode(env.Payload, &r) && c.events.OnRoster != nil {
			c.events.OnRoster(r)
		}
	case EventPeerJoined:
		var p PeerJoinedPayload
		if decode(env.Payload, &p) && c.events.OnPeerJoined != nil {
			c.events.OnPeerJoined(p)
		}
	case EventPeerLeft:
		var p PeerLeftPayload
		if decode(env.Payload, &p) && c.events.OnPeerLeft != nil {
			c.events.OnPeerLeft(p)
		}
	case EventOffer:
		var p SDPPayload
		if decode(env.Payload, &p) && c.events.OnOffer != nil {
			c.events.OnOffer(env.From, p.Description(), p.FromName)
		}
	case EventAnswer:
		var p SDPPayload
		if decode(env.Payload, &p) && c.events.OnAnswer != nil {
			c.events.OnAnswer(env.From, p.Description())
		}
	case EventCandidate:
		var p CandidatePayload
		if decode(env.Payload, &p) && c.events.OnCandidate != nil {
			c.events.OnCandidate(env.From, p.Init())
		}
	case EventControl:
		var cmd domain.ControlCommand
		if decode(env.Payload, &cmd) && c.events.OnControl != nil {
			c.events.OnControl(cmd)
		}
	case EventChat:
		var p ChatPayload
		if decode(env.Payload, &p) && c.events.OnChat != nil {
			c.events.OnChat(p)
		}
	case EventChatAck:
		var p ChatAckPayload
		if decode(env.Payload, &p) {
			c.fireAck(p.ID, p.OK)
		}
	case EventICEServers:
		var p ICEServersPayload
		if decode(env.Payload, &p) && c.events.OnICEServers != nil {
			c.events.OnICEServers(p.WebRTC())
		}
	case EventSessionEnded:
		if c.events.OnSessionEnded != nil {
			c.events.OnSessionEnded()
		}
	case EventError:
		var p ErrorPayload
		if decode(env.Payload, &p) {
			log.Warn().Str("module", "signal").Str("reason", p.Reason).Msg("server error event")
		}
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Kind)).Msg("unknown signal")
	}
}

func decode(raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad payload")
		return false
	}
	return true
}

// Close sends a best-effort leave, flushes the queue and closes the
// transport. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.userClosed = true
	c.mu.Unlock()

	_ = c.SendLeave()
	c.teardown(nil)
}

func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.acks
	c.acks = make(map[string]*pendingAck)
	userClosed := c.userClosed
	close(c.send)
	c.mu.Unlock()

	// Let the write pump drain queued frames (including the leave), then
	// drop the transport.
	if c.conn != nil {
		time.AfterFunc(100*time.Millisecond, func() { _ = c.conn.Close() })
	}
	close(c.done)

	for _, p := range pending {
		p.timer.Stop()
		p.fn(false)
	}
	if cause != nil && !userClosed {
		log.Warn().Err(cause).Str("module", "signal").Msg("signaling channel lost")
		if c.events.OnClosed != nil {
			c.events.OnClosed(cause)
		}
	}
}

// Done is closed once the client has shut down.
func (c *Client) Done() <-chan struct{} { return c.done }
