package ws

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/inventra/ims-event-hub/config"
	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/domain/registry"
	"github.com/inventra/ims-event-hub/internal/domain/session"
	"github.com/inventra/ims-event-hub/internal/service"
	"github.com/inventra/ims-event-hub/internal/telemetry"
)

const testSigningKey = "test-secret"

func newTestDelivery(t *testing.T) *Delivery {
	t.Helper()
	cfg := &config.Config{
		Wire: config.Wire{
			AllowedOrigins:      []string{"*"},
			SendTimeout:         5 * time.Second,
			SendBufferBytes:     4096,
			MessageSizeLimit:    256,
			HandshakeRatePerSec: 100,
		},
		Auth: config.Auth{SigningKey: testSigningKey},
		Session: config.Session{
			OutboxCapacity:  16,
			HighWaterRatio:  0.8,
			LivenessTimeout: time.Minute,
			SweepInterval:   time.Minute,
			DrainGrace:      time.Second,
		},
	}
	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	log := slog.New(slog.DiscardHandler)
	sessions := service.NewSessionManager(cfg, session.NewTable(), registry.New(), metrics, log)
	return NewDelivery(cfg, service.NewTokenVerifier(cfg), sessions, log)
}

func signTestToken(t *testing.T, roles ...string) string {
	t.Helper()
	claims := &service.Claims{
		UserID: "u1",
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return token
}

func dial(t *testing.T, d *Delivery, ch event.Channel, header http.Header) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(d.Handler(ch))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	return conn
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

type wireFrame struct {
	MessageType string          `json:"messageType"`
	Payload     json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame wireFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, code), "expected close %d, got %v", code, err)
}

func TestHandshakeMissingTokenClosesPolicyViolation(t *testing.T) {
	d := newTestDelivery(t)
	conn := dial(t, d, event.ChannelAlerts, nil)
	expectClose(t, conn, ClosePolicyViolation)
}

func TestHandshakeBadTokenClosesPolicyViolation(t *testing.T) {
	d := newTestDelivery(t)
	conn := dial(t, d, event.ChannelAlerts, bearer("not.a.token"))
	expectClose(t, conn, ClosePolicyViolation)
}

func TestHandshakeForbiddenRoleClosesPolicyViolation(t *testing.T) {
	d := newTestDelivery(t)
	// Compliance holds no locates grant.
	conn := dial(t, d, event.ChannelLocates, bearer(signTestToken(t, service.RoleCompliance)))
	expectClose(t, conn, ClosePolicyViolation)
}

func TestHandshakeAckPingAndSubscribe(t *testing.T) {
	d := newTestDelivery(t)
	conn := dial(t, d, event.ChannelAlerts, bearer(signTestToken(t, service.RoleTrader)))

	ack := readFrame(t, conn)
	require.Equal(t, MsgConnectionAck, ack.MessageType)
	var ackPayload struct {
		SessionID string `json:"sessionId"`
		Channel   string `json:"channel"`
	}
	require.NoError(t, json.Unmarshal(ack.Payload, &ackPayload))
	require.NotEmpty(t, ackPayload.SessionID)
	require.Equal(t, "alerts", ackPayload.Channel)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messageType":"PING"}`)))
	require.Equal(t, MsgPong, readFrame(t, conn).MessageType)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"messageType":"SUBSCRIBE_ALERTS","payload":{"severity":"CRITICAL"}}`)))
	confirm := readFrame(t, conn)
	require.Equal(t, MsgSubscriptionConfirmed, confirm.MessageType)
	var confirmPayload subscriptionConfirmedPayload
	require.NoError(t, json.Unmarshal(confirm.Payload, &confirmPayload))
	require.True(t, confirmPayload.Changed)
	require.Equal(t, map[string]string{event.DimSeverity: "CRITICAL"}, confirmPayload.Filter)
}

func TestUnsupportedMessageTypeGetsError(t *testing.T) {
	d := newTestDelivery(t)
	conn := dial(t, d, event.ChannelAlerts, bearer(signTestToken(t, service.RoleTrader)))
	require.Equal(t, MsgConnectionAck, readFrame(t, conn).MessageType)

	// The positions grammar is not valid on the alerts endpoint.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"messageType":"SUBSCRIBE_POSITIONS"}`)))
	frame := readFrame(t, conn)
	require.Equal(t, MsgError, frame.MessageType)
	var errPayload errorPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &errPayload))
	require.Equal(t, ErrCodeUnsupported, errPayload.Code)
}

func TestMalformedFrameGetsParsingError(t *testing.T) {
	d := newTestDelivery(t)
	conn := dial(t, d, event.ChannelAlerts, bearer(signTestToken(t, service.RoleTrader)))
	require.Equal(t, MsgConnectionAck, readFrame(t, conn).MessageType)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	frame := readFrame(t, conn)
	require.Equal(t, MsgError, frame.MessageType)
	var errPayload errorPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &errPayload))
	require.Equal(t, ErrCodeParsing, errPayload.Code)
}

func TestOversizeFrameClosesMessageTooBig(t *testing.T) {
	d := newTestDelivery(t)
	conn := dial(t, d, event.ChannelAlerts, bearer(signTestToken(t, service.RoleTrader)))
	require.Equal(t, MsgConnectionAck, readFrame(t, conn).MessageType)

	big := strings.Repeat("x", 1024) // past wire.messageSizeLimit
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messageType":"`+big+`"}`)))
	expectClose(t, conn, websocket.CloseMessageTooBig)
}
