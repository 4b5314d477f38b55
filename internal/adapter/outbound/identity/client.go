package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrInvalidToken is returned for tokens the identity service rejects.
var ErrInvalidToken = errors.New("invalid or expired token")

const verifyCacheTTL = 5 * time.Minute

// Identity is the verified caller attached to a request. The gateway
// trusts it for the remainder of the request; no component re-verifies.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Verifier validates bearer tokens. Session tokens issued by the BaaS
// platform are verified remotely against its account endpoint;
// gateway-issued service tokens are JWTs verified locally. Successful
// verifications are cached briefly in Redis.
type Verifier struct {
	endpoint  string
	projectID string
	jwtSecret []byte

	http   *http.Client
	redis  redis.UniversalClient
	logger *zap.Logger
}

// Config holds verifier settings.
type Config struct {
	Endpoint  string
	ProjectID string
	JWTSecret string
}

// NewVerifier creates a token verifier. redisClient may be nil.
func NewVerifier(cfg *Config, httpClient *http.Client, redisClient redis.UniversalClient, logger *zap.Logger) *Verifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Verifier{
		endpoint:  cfg.Endpoint,
		projectID: cfg.ProjectID,
		jwtSecret: []byte(cfg.JWTSecret),
		http:      httpClient,
		redis:     redisClient,
		logger:    logger,
	}
}

// VerifyToken resolves a bearer token to an identity.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	if id := v.fromCache(ctx, token); id != nil {
		return id, nil
	}

	// Service tokens are local JWTs; session tokens go to the platform.
	id, err := v.verifyJWT(token)
	if err != nil {
		id, err = v.verifyRemote(ctx, token)
		if err != nil {
			return nil, err
		}
	}

	v.toCache(ctx, token, id)
	return id, nil
}

type serviceClaims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (v *Verifier) verifyJWT(token string) (*Identity, error) {
	if len(v.jwtSecret) == 0 {
		return nil, ErrInvalidToken
	}

	var claims serviceClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.jwtSecret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{UserID: claims.Subject, Name: claims.Name, Email: claims.Email}, nil
}

func (v *Verifier) verifyRemote(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+"/account", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Project-ID", v.projectID)
	req.Header.Set("X-Session-Token", token)

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var account struct {
		ID    string `json:"$id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if account.ID == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{UserID: account.ID, Name: account.Name, Email: account.Email}, nil
}

func (v *Verifier) fromCache(ctx context.Context, token string) *Identity {
	if v.redis == nil {
		return nil
	}
	data, err := v.redis.Get(ctx, tokenKey(token)).Bytes()
	if err != nil {
		if err != redis.Nil {
			v.logger.Warn("token cache read failed", zap.Error(err))
		}
		return nil
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil
	}
	return &id
}

func (v *Verifier) toCache(ctx context.Context, token string, id *Identity) {
	if v.redis == nil {
		return
	}
	data, err := json.Marshal(id)
	if err != nil {
		return
	}
	if err := v.redis.Set(ctx, tokenKey(token), data, verifyCacheTTL).Err(); err != nil {
		v.logger.Warn("token cache write failed", zap.Error(err))
	}
}

// tokenKey hashes the token so raw secrets never land in Redis keys.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "identity:token:" + hex.EncodeToString(sum[:])
}
