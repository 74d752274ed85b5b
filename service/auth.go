package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/margin/idgen"
	"github.com/hazyhaar/margin/safenet"
)

// Claims is the JWT payload for reviewer tokens. Name identifies the token
// owner as shown in annotation listings; Admin grants lifecycle actions on
// annotations owned by others.
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}

// GenerateToken creates a signed reviewer token. Returns an error if the
// secret is shorter than safenet.MinSecretLen bytes.
func GenerateToken(secret []byte, name string, admin bool, expiry time.Duration) (string, error) {
	if err := safenet.ValidateSecret(secret); err != nil {
		return "", fmt.Errorf("service: %w", err)
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		Name:  name,
		Admin: admin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and validates a reviewer token. The signing method
// is pinned to HS256 to prevent algorithm confusion.
func ValidateToken(secret []byte, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v (only HS256 allowed)", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

type claimsKey struct{}

// GetClaims retrieves the reviewer claims from the context, or nil.
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// bearerAuth extracts a Bearer token, validates it, and injects the claims
// into the request context. Invalid or missing tokens are ignored here;
// requireIdentity enforces.
func (s *Service) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if len(h) > 7 && h[:7] == "Bearer " {
			if claims, err := ValidateToken(s.secret, h[7:]); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// AgentKeys issues and verifies agent credentials. Keys are random, shown
// once at creation, and stored bcrypt-hashed.
type AgentKeys struct {
	db     *sql.DB
	newKey idgen.Generator
}

// NewAgentKeys wraps the agent_keys table of an open database.
func NewAgentKeys(db *sql.DB) *AgentKeys {
	return &AgentKeys{db: db, newKey: idgen.Prefixed("agk_", idgen.NanoID(32))}
}

// Create issues a key for the named agent and returns the plaintext. Only
// the bcrypt hash is stored; the plaintext cannot be recovered later.
func (a *AgentKeys) Create(ctx context.Context, name string) (string, error) {
	key := a.newKey()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("service: hash agent key: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO agent_keys (name, key_hash, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET key_hash = excluded.key_hash, created_at = excluded.created_at`,
		name, string(hash), time.Now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("service: store agent key: %w", err)
	}
	return key, nil
}

// ErrBadAgentKey is returned when no stored hash matches the presented key.
var ErrBadAgentKey = errors.New("unknown agent key")

// Verify returns the agent name the key belongs to, or ErrBadAgentKey.
func (a *AgentKeys) Verify(ctx context.Context, key string) (string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT name, key_hash FROM agent_keys`)
	if err != nil {
		return "", fmt.Errorf("service: load agent keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			return "", fmt.Errorf("service: scan agent key: %w", err)
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
			return name, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return "", ErrBadAgentKey
}

type agentKey struct{}

// GetAgent retrieves the verified agent name from the context, or "".
func GetAgent(ctx context.Context) string {
	name, _ := ctx.Value(agentKey{}).(string)
	return name
}

// requireAgentKey rejects requests whose X-Agent-Key header does not match
// a stored key, and injects the agent name otherwise.
func (s *Service) requireAgentKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Agent-Key")
		if key == "" {
			writeStatusError(w, http.StatusUnauthorized, "agent key required")
			return
		}
		name, err := s.agents.Verify(r.Context(), key)
		if err != nil {
			writeStatusError(w, http.StatusUnauthorized, "invalid agent key")
			return
		}
		ctx := context.WithValue(r.Context(), agentKey{}, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
