package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/akmatori/contractmon/internal/api"
	"github.com/akmatori/contractmon/internal/clock"
	"github.com/akmatori/contractmon/internal/utils"
)

// Scope limits what an operator token may reach
type Scope string

const (
	// ScopeOperator grants the whole operator API
	ScopeOperator Scope = "operator"
	// ScopeFeed grants only the live violation feed
	ScopeFeed Scope = "feed"
)

const (
	tokenIssuer = "contractmon"

	// DefaultFeedTokenTTL bounds feed tokens, which travel in websocket URLs
	DefaultFeedTokenTTL = 5 * time.Minute
)

// ErrInvalidCredentials is returned by Login for an unknown operator or a wrong password
var ErrInvalidCredentials = errors.New("invalid username or password")

// OperatorClaims are the claims of an operator token. The subject is the operator name.
type OperatorClaims struct {
	Scope Scope `json:"scope"`
	jwt.RegisteredClaims
}

// Operator is the authenticated caller of a request
type Operator struct {
	Name  string
	Scope Scope
}

// Token is a signed operator token
type Token struct {
	Value     string
	Scope     Scope
	ExpiresAt time.Time
}

// AuthConfig configures operator authentication
type AuthConfig struct {
	Username     string
	PasswordHash string // bcrypt
	Secret       string

	TokenTTL     time.Duration
	FeedTokenTTL time.Duration

	// PublicPaths are served without a token; exact matches only
	PublicPaths []string

	// FeedPath is the live feed route. Feed tokens reach nothing else and
	// may be passed as ?token= on websocket upgrades of this path.
	FeedPath string

	Clock clock.Clock
}

// Authenticator issues and checks operator tokens
type Authenticator struct {
	cfg    AuthConfig
	public map[string]bool
}

type operatorContextKey struct{}

// NewAuthenticator creates an authenticator
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.FeedTokenTTL <= 0 {
		cfg.FeedTokenTTL = DefaultFeedTokenTTL
	}
	public := make(map[string]bool, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = true
	}
	return &Authenticator{cfg: cfg, public: public}
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword checks if the provided password matches the hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Login checks operator credentials and issues an operator-scoped token
func (a *Authenticator) Login(username, password string) (Token, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.Username)) == 1
	// Always run bcrypt so unknown operators cost the same as wrong passwords
	passOK := CheckPassword(password, a.cfg.PasswordHash)
	if !userOK || !passOK {
		return Token{}, ErrInvalidCredentials
	}
	return a.Issue(username, ScopeOperator)
}

// Issue signs a token for operator with the given scope
func (a *Authenticator) Issue(operator string, scope Scope) (Token, error) {
	ttl := a.cfg.TokenTTL
	switch scope {
	case ScopeOperator:
	case ScopeFeed:
		ttl = a.cfg.FeedTokenTTL
	default:
		return Token{}, fmt.Errorf("unknown token scope %q", scope)
	}

	now := a.cfg.Clock.Now()
	expires := now.Add(ttl)
	claims := OperatorClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
	if err != nil {
		return Token{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return Token{Value: signed, Scope: scope, ExpiresAt: expires}, nil
}

// Parse verifies a token against the authenticator's clock
func (a *Authenticator) Parse(raw string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(a.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.cfg.Clock.Now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	if claims.Scope != ScopeOperator && claims.Scope != ScopeFeed {
		return nil, fmt.Errorf("unknown token scope %q", claims.Scope)
	}
	return claims, nil
}

// TokenTTL is the lifetime of tokens of the given scope
func (a *Authenticator) TokenTTL(scope Scope) time.Duration {
	if scope == ScopeFeed {
		return a.cfg.FeedTokenTTL
	}
	return a.cfg.TokenTTL
}

// Middleware rejects requests without a valid token and records the
// operator on the request context. Public paths pass through.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		raw := a.extractToken(r)
		if raw == "" {
			unauthorized(w, "Missing authentication token")
			return
		}
		claims, err := a.Parse(raw)
		if err != nil {
			log.Printf("Auth: rejected token from %s: %s", r.RemoteAddr, utils.SanitizeError(err))
			unauthorized(w, "Invalid or expired token")
			return
		}
		if claims.Scope == ScopeFeed && r.URL.Path != a.cfg.FeedPath {
			api.RespondError(w, http.StatusForbidden, api.CodeForbidden, "Token is limited to the live feed")
			return
		}

		op := Operator{Name: claims.Subject, Scope: claims.Scope}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorContextKey{}, op)))
	})
}

// extractToken reads the bearer token. Browsers cannot set headers on
// websocket upgrades, so the feed route also accepts ?token= on upgrades.
func (a *Authenticator) extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if a.cfg.FeedPath != "" && r.URL.Path == a.cfg.FeedPath &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="contractmon"`)
	api.RespondError(w, http.StatusUnauthorized, api.CodeUnauthorized, message)
}

// OperatorFromContext returns the operator authenticated for a request
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorContextKey{}).(Operator)
	return op, ok
}
