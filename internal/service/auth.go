package service

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/inventra/ims-event-hub/config"
	"github.com/inventra/ims-event-hub/internal/domain/event"
	"github.com/inventra/ims-event-hub/internal/errs"
)

// Desk roles carried in token claims.
const (
	RoleTrader     = "Trader"
	RoleOperations = "Operations"
	RoleCompliance = "Compliance"
	RoleAdmin      = "Admin"
)

// Claims is the hub's expected token shape.
type Claims struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenVerifier validates bearer tokens presented during the handshake.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

type tokenVerifier struct {
	parser *jwt.Parser
	key    []byte
}

func NewTokenVerifier(cfg *config.Config) TokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Auth.IssuerURI != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Auth.IssuerURI))
	}
	if cfg.Auth.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Auth.Audience))
	}
	return &tokenVerifier{
		parser: jwt.NewParser(opts...),
		key:    []byte(cfg.Auth.SigningKey),
	}
}

func (v *tokenVerifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return nil, errs.Permanent("AUTH_TOKEN_INVALID", err)
	}
	if claims.UserID == "" {
		return nil, errs.Permanentf("AUTH_TOKEN_INVALID", "token carries no userId claim")
	}
	return claims, nil
}

// ExtractToken pulls the bearer token from the Authorization header, falling
// back to the token query parameter for browser WebSocket clients that cannot
// set headers.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// ChannelsForRoles resolves the channel set a role list authorizes:
// positions and inventory for desk, operations and compliance roles; locates
// for desk and operations; alerts for any authenticated principal; the admin
// surface for Admin only.
func ChannelsForRoles(roles []string) map[event.Channel]struct{} {
	out := map[event.Channel]struct{}{
		event.ChannelAlerts: {},
	}
	for _, role := range roles {
		switch role {
		case RoleTrader, RoleOperations:
			out[event.ChannelPositions] = struct{}{}
			out[event.ChannelInventory] = struct{}{}
			out[event.ChannelLocates] = struct{}{}
		case RoleCompliance:
			out[event.ChannelPositions] = struct{}{}
			out[event.ChannelInventory] = struct{}{}
		case RoleAdmin:
			out[event.ChannelAdmin] = struct{}{}
		}
	}
	return out
}

// HasRole reports whether the role list contains the role.
func HasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
