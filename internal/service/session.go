package service

import (
	"net/http"
	"strings"

	"github.com/discussblog/backend/internal/model"
)

// SessionVerifier is implemented by IdentityService.
type SessionVerifier interface {
	VerifySessionToken(token string) (*model.Session, error)
}

// SessionAccessor recovers the caller's session from a request. Owner
// equality against the configured login is the only authorization rule.
type SessionAccessor struct {
	verifier   SessionVerifier
	cookieName string
	ownerLogin string
}

func NewSessionAccessor(verifier SessionVerifier, cookieName, ownerLogin string) *SessionAccessor {
	return &SessionAccessor{
		verifier:   verifier,
		cookieName: cookieName,
		ownerLogin: strings.TrimSpace(ownerLogin),
	}
}

// CurrentSession returns nil for anonymous callers, including those holding
// an expired or tampered token.
func (a *SessionAccessor) CurrentSession(r *http.Request) *model.Session {
	token := a.tokenFromRequest(r)
	if token == "" {
		return nil
	}
	sess, err := a.verifier.VerifySessionToken(token)
	if err != nil {
		return nil
	}
	return sess
}

func (a *SessionAccessor) CurrentIdentity(r *http.Request) *model.Identity {
	sess := a.CurrentSession(r)
	if sess == nil {
		return nil
	}
	return &sess.Identity
}

func (a *SessionAccessor) IsOwner(r *http.Request) bool {
	return a.IsOwnerSession(a.CurrentSession(r))
}

// IsOwnerSession is false when no owner login is configured.
func (a *SessionAccessor) IsOwnerSession(sess *model.Session) bool {
	if sess == nil || a.ownerLogin == "" {
		return false
	}
	return sess.Identity.Login == a.ownerLogin
}

func (a *SessionAccessor) tokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if cookie, err := r.Cookie(a.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
