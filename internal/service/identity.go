package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/discussblog/backend/internal/client"
	"github.com/discussblog/backend/internal/config"
	"github.com/discussblog/backend/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sessionCookieName = "discussblog_session"
	stateCookieName   = "discussblog_oauth_state"
	sessionIssuer     = "discussblog"
	stateTTL          = 10 * time.Minute
)

// OAuthProvider is the GitHub OAuth app as seen by the identity service.
type OAuthProvider interface {
	AuthCodeURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*client.GitHubProfile, string, error)
}

type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   int
}

// IdentityService turns a GitHub sign-in into a normalized identity and
// carries that identity in a signed, stateless session token.
type IdentityService struct {
	provider   OAuthProvider
	signingKey []byte
	sealingKey []byte
	sessionTTL time.Duration
	cookieCfg  CookieConfig
	now        func() time.Time
}

type sessionClaims struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"picture,omitempty"`
	// Sealed provider access token, empty when none was issued.
	SealedToken string `json:"tok,omitempty"`
	jwt.RegisteredClaims
}

// githubIdentity is the validated shape of a GitHub profile.
type githubIdentity struct {
	Login       string `validate:"required,githublogin"`
	DisplayName string `validate:"max=255"`
	AvatarURL   string `validate:"omitempty,url"`
	AccessToken string `validate:"required"`
}

// NewIdentityService validates the cookie and TTL settings. A missing
// SESSION_SECRET is not fatal here: sign-in then fails with ErrMisconfigured
// and every request is treated as anonymous.
func NewIdentityService(provider OAuthProvider, cfg config.AuthConfig) (*IdentityService, error) {
	sessionTTL, err := time.ParseDuration(cfg.SessionTTL)
	if err != nil || sessionTTL <= 0 {
		return nil, fmt.Errorf("%w: invalid SESSION_TTL", ErrMisconfigured)
	}

	cookieSecure, err := parseBool(cfg.CookieSecure, true)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SECURE", ErrMisconfigured)
	}

	cookieSameSite, err := parseSameSite(cfg.CookieSameSite)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SAMESITE", ErrMisconfigured)
	}

	if cookieSameSite == http.SameSiteNoneMode && !cookieSecure {
		return nil, fmt.Errorf("%w: SameSite=None requires Secure cookie", ErrMisconfigured)
	}

	cookiePath := cfg.CookiePath
	if strings.TrimSpace(cookiePath) == "" {
		cookiePath = "/"
	}

	s := &IdentityService{
		provider:   provider,
		sessionTTL: sessionTTL,
		cookieCfg: CookieConfig{
			Name:     sessionCookieName,
			Path:     cookiePath,
			Domain:   cfg.CookieDomain,
			Secure:   cookieSecure,
			SameSite: cookieSameSite,
			MaxAge:   int(sessionTTL.Seconds()),
		},
		now: time.Now,
	}

	if secret := strings.TrimSpace(cfg.SessionSecret); secret != "" {
		if s.signingKey, err = deriveKey(secret, "session-signing", 32); err != nil {
			return nil, err
		}
		if s.sealingKey, err = deriveKey(secret, "provider-token-sealing", chacha20poly1305.KeySize); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *IdentityService) CookieConfig() CookieConfig {
	return s.cookieCfg
}

// StateCookieConfig is the short-lived cookie holding the OAuth state.
func (s *IdentityService) StateCookieConfig() CookieConfig {
	cfg := s.cookieCfg
	cfg.Name = stateCookieName
	cfg.MaxAge = int(stateTTL.Seconds())
	// The callback is a top-level cross-site redirect from github.com.
	if cfg.SameSite == http.SameSiteStrictMode {
		cfg.SameSite = http.SameSiteLaxMode
	}
	return cfg
}

// SignInURL returns the provider authorization URL and the state value the
// caller must remember until the callback.
func (s *IdentityService) SignInURL() (string, string, error) {
	if s.signingKey == nil {
		return "", "", fmt.Errorf("%w: SESSION_SECRET is required", ErrMisconfigured)
	}
	state, err := newState()
	if err != nil {
		return "", "", err
	}
	url, err := s.provider.AuthCodeURL(state)
	if err != nil {
		if errors.Is(err, client.ErrOAuthNotConfigured) {
			return "", "", fmt.Errorf("%w: GITHUB_ID/GITHUB_SECRET are required", ErrMisconfigured)
		}
		return "", "", fmt.Errorf("%w: %v", ErrAuthProvider, err)
	}
	return url, state, nil
}

// Exchange trades an authorization code for a normalized identity.
func (s *IdentityService) Exchange(ctx context.Context, code string) (*model.Identity, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrAuthProvider)
	}

	profile, accessToken, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthProvider, err)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: empty profile", ErrAuthProvider)
	}

	in := githubIdentity{
		Login:       strings.TrimSpace(profile.Login),
		AvatarURL:   strings.TrimSpace(profile.AvatarURL),
		AccessToken: accessToken,
	}
	if profile.Name != nil {
		in.DisplayName = strings.TrimSpace(*profile.Name)
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Login
	}
	if err := validatorInstance().Struct(in); err != nil {
		return nil, fmt.Errorf("%w: malformed profile: %v", ErrAuthProvider, err)
	}

	return &model.Identity{
		Login:               in.Login,
		DisplayName:         in.DisplayName,
		AvatarURL:           in.AvatarURL,
		ProviderAccessToken: in.AccessToken,
	}, nil
}

// IssueSessionToken signs identity into an HS256 token. The provider access
// token travels sealed, so the token payload never exposes it.
func (s *IdentityService) IssueSessionToken(identity model.Identity) (string, time.Time, error) {
	if s.signingKey == nil {
		return "", time.Time{}, fmt.Errorf("%w: SESSION_SECRET is required", ErrMisconfigured)
	}
	if strings.TrimSpace(identity.Login) == "" {
		return "", time.Time{}, ErrInvalidInput
	}

	var sealed string
	if identity.ProviderAccessToken != "" {
		var err error
		sealed, err = s.seal(identity.ProviderAccessToken, identity.Login)
		if err != nil {
			return "", time.Time{}, err
		}
	}

	now := s.now()
	expiresAt := now.Add(s.sessionTTL)
	claims := sessionClaims{
		Login:       identity.Login,
		Name:        identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
		SealedToken: sealed,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   identity.Login,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifySessionToken returns ErrInvalidSession for anything that is not a
// well-formed, unexpired token signed with the current secret.
func (s *IdentityService) VerifySessionToken(tokenStr string) (*model.Session, error) {
	if s.signingKey == nil || strings.TrimSpace(tokenStr) == "" {
		return nil, ErrInvalidSession
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSession
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}
	if claims.Login == "" || claims.Subject != claims.Login {
		return nil, ErrInvalidSession
	}

	var accessToken string
	if claims.SealedToken != "" {
		accessToken, err = s.open(claims.SealedToken, claims.Login)
		if err != nil {
			return nil, ErrInvalidSession
		}
	}

	sess := &model.Session{
		Identity: model.Identity{
			Login:               claims.Login,
			DisplayName:         claims.Name,
			AvatarURL:           claims.AvatarURL,
			ProviderAccessToken: accessToken,
		},
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.Time
	}
	return sess, nil
}

func (s *IdentityService) seal(plaintext, login string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.sealingKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), []byte(login))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *IdentityService) open(sealed, login string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(s.sealingKey)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("sealed token too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(login))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func deriveKey(secret, purpose string, size int) ([]byte, error) {
	key := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("discussblog "+purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", purpose, err)
	}
	return key, nil
}

func newState() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func parseBool(value string, fallback bool) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, err
	}
	return parsed, nil
}

func parseSameSite(value string) (http.SameSite, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return http.SameSiteLaxMode, nil
	}
	switch value {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, ErrInvalidInput
	}
}
