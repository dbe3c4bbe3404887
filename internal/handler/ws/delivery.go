package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/inventra/ims-event-hub/config"
	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/domain/session"
	"github.com/inventra/ims-event-hub/internal/service"
)

// Delivery owns the channel endpoints: the handshake, the per-connection
// read pump and the single egress writer draining each session's outbox.
type Delivery struct {
	cfg      *config.Config
	verifier service.TokenVerifier
	sessions *service.SessionManager
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewDelivery(cfg *config.Config, verifier service.TokenVerifier, sessions *service.SessionManager, log *slog.Logger) *Delivery {
	d := &Delivery{
		cfg:      cfg,
		verifier: verifier,
		sessions: sessions,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Wire.HandshakeRatePerSec), int(cfg.Wire.HandshakeRatePerSec*2)),
		log:      log.With(slog.String("component", "ws")),
	}
	d.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: cfg.Wire.SendBufferBytes,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin; the allow-list guards
			// browsers only.
			return origin == "" || cfg.OriginAllowed(origin)
		},
	}
	return d
}

// Handler serves one channel endpoint.
func (d *Delivery) Handler(ch event.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !d.limiter.Allow() {
			http.Error(w, "handshake rate exceeded", http.StatusTooManyRequests)
			return
		}

		token := service.ExtractToken(r)
		conn, err := d.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade wrote its own HTTP error.
			return
		}

		// Auth failures close after the upgrade so browser clients can read
		// the close reason; a plain 401 is invisible to the WebSocket API.
		claims, err := d.verifier.Verify(token)
		if err != nil {
			d.rejectHandshake(conn, "AUTH_FAILED")
			return
		}
		if _, ok := service.ChannelsForRoles(claims.Roles)[ch]; !ok {
			d.rejectHandshake(conn, ErrCodeForbidden)
			return
		}

		s := d.sessions.Open(r.Context(), claims.UserID, claims.Roles)
		ack, err := event.EncodeWire(MsgConnectionAck, "", &connectionAckPayload{
			SessionID: s.ID,
			Channel:   string(ch),
			Roles:     claims.Roles,
		})
		if err != nil || d.writeFrame(conn, ack) != nil {
			d.sessions.CloseSession(s.ID, CloseInternalError, "ACK_WRITE_FAILED")
			_ = conn.Close()
			return
		}
		if !s.Open() {
			// Shutdown raced the handshake.
			_ = conn.Close()
			return
		}

		var wg conc.WaitGroup
		wg.Go(func() { d.writePump(conn, s) })
		d.readPump(conn, s, ch)
		if p := wg.WaitAndRecover(); p != nil {
			d.log.Error("EGRESS_WRITER_PANIC",
				slog.String("sessionId", s.ID),
				slog.Any("panic", p.Value),
			)
		}
	}
}

func (d *Delivery) rejectHandshake(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(d.cfg.Wire.SendTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(ClosePolicyViolation, reason), deadline)
	_ = conn.Close()
}

func (d *Delivery) writeFrame(conn *websocket.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(d.cfg.Wire.SendTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readPump consumes client frames until the connection dies or the session
// is torn down. Every frame, well-formed or not, advances the liveness clock.
func (d *Delivery) readPump(conn *websocket.Conn, s *session.Session, ch event.Channel) {
	conn.SetReadLimit(d.cfg.Wire.MessageSizeLimit)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			d.sessions.CloseSession(s.ID, CloseNormal, "CLIENT_DISCONNECT")
			return
		}
		s.Touch()

		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			d.reply(s, MsgError, &errorPayload{Code: ErrCodeParsing, Message: "malformed frame"})
			continue
		}

		switch msg.MessageType {
		case MsgPing:
			d.reply(s, MsgPong, nil)
		case SubscribeTypeFor(ch):
			d.handleSubscribe(s, ch, msg.Payload, true)
		case UnsubscribeTypeFor(ch):
			d.handleSubscribe(s, ch, msg.Payload, false)
		default:
			d.reply(s, MsgError, &errorPayload{
				Code:    ErrCodeUnsupported,
				Message: "unsupported messageType " + msg.MessageType,
			})
		}
	}
}

func (d *Delivery) handleSubscribe(s *session.Session, ch event.Channel, rawFilter json.RawMessage, subscribe bool) {
	if ch == event.ChannelAdmin {
		// The admin surface carries no event stream to subscribe to.
		d.reply(s, MsgError, &errorPayload{Code: ErrCodeUnsupported, Message: "admin surface has no subscriptions"})
		return
	}

	var filter SubscriptionFilter
	if len(rawFilter) > 0 {
		if err := json.Unmarshal(rawFilter, &filter); err != nil {
			d.reply(s, MsgError, &errorPayload{Code: ErrCodeParsing, Message: "malformed filter payload"})
			return
		}
	}
	p := filter.Predicate(ch)

	var changed bool
	action := "unsubscribe"
	if subscribe {
		action = "subscribe"
		var err error
		changed, err = d.sessions.Subscribe(s.ID, ch, p)
		if err != nil {
			d.reply(s, MsgError, &errorPayload{Code: ErrCodeForbidden, Message: err.Error()})
			return
		}
	} else {
		changed = d.sessions.Unsubscribe(s.ID, ch, p)
	}

	d.reply(s, MsgSubscriptionConfirmed, &subscriptionConfirmedPayload{
		Action:  action,
		Channel: string(ch),
		Filter:  p.Fields(),
		Changed: changed,
	})
}

// reply routes control responses through the outbox so the single egress
// writer is the only goroutine touching the wire.
func (d *Delivery) reply(s *session.Session, messageType string, payload any) {
	data, err := event.EncodeWire(messageType, "", payload)
	if err != nil {
		d.log.Error("REPLY_ENCODE_FAILED",
			slog.String("sessionId", s.ID),
			slog.Any("error", err),
		)
		return
	}
	s.Enqueue(data)
}

// writePump is the session's single egress writer. It drains the outbox to
// the wire and, on teardown, flushes within the drain grace window before
// sending the recorded close frame.
func (d *Delivery) writePump(conn *websocket.Conn, s *session.Session) {
	defer func() {
		d.sessions.Finish(s)
		_ = conn.Close()
	}()

	outbox := s.Outbox()
	for {
		select {
		case entry := <-outbox.Next():
			if err := d.writeFrame(conn, entry.Data); err != nil {
				d.log.Warn("EGRESS_WRITE_FAILED",
					slog.String("sessionId", s.ID),
					slog.Uint64("seq", entry.Seq),
					slog.Any("error", err),
				)
				d.sessions.CloseSession(s.ID, CloseInternalError, "WRITE_FAILED")
				return
			}
			outbox.MarkDelivered()
		case <-outbox.Done():
			d.drainAndClose(conn, s)
			return
		}
	}
}

func (d *Delivery) drainAndClose(conn *websocket.Conn, s *session.Session) {
	outbox := s.Outbox()
	deadline := time.Now().Add(d.cfg.Session.DrainGrace)
drain:
	for time.Now().Before(deadline) {
		select {
		case entry := <-outbox.Next():
			if d.writeFrame(conn, entry.Data) != nil {
				return
			}
			outbox.MarkDelivered()
		default:
			break drain
		}
	}

	code, reason := s.CloseFrame()
	if code == 0 {
		code = CloseNormal
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
