package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/discussblog/backend/internal/client"
	"github.com/discussblog/backend/internal/config"
	"github.com/discussblog/backend/internal/model"
	"github.com/discussblog/backend/internal/service"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

const (
	testBaseURL = "http://blog.test"
	testOwner   = "octocat"
)

// memoryStore stands in for the GitHub-backed post store.
type memoryStore struct {
	mu        sync.Mutex
	posts     map[int]model.DiscussionPost
	creates   int
	createErr error
	getErr    error
	lastFirst int
	lastAfter string
	lastToken string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{posts: map[int]model.DiscussionPost{}}
}

func (m *memoryStore) ListPosts(_ context.Context, first int, after string) model.PostPage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFirst, m.lastAfter = first, after

	page := model.PostPage{Posts: []model.DiscussionPost{}}
	for n := len(m.posts); n >= 1 && len(page.Posts) < first; n-- {
		page.Posts = append(page.Posts, m.posts[n])
	}
	return page
}

func (m *memoryStore) GetPost(_ context.Context, number int) (*model.DiscussionPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	post, ok := m.posts[number]
	if !ok {
		return nil, service.ErrPostNotFound
	}
	return &post, nil
}

func (m *memoryStore) CreatePost(_ context.Context, title, body, token string) (*model.CreatedPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	m.lastToken = token
	if m.createErr != nil {
		return nil, m.createErr
	}
	n := len(m.posts) + 1
	post := model.DiscussionPost{
		ID:        fmt.Sprintf("D_%d", n),
		Number:    n,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
		URL:       fmt.Sprintf("https://github.com/octocat/blog/discussions/%d", n),
	}
	m.posts[n] = post
	return &model.CreatedPost{ID: post.ID, Number: post.Number, URL: post.URL}, nil
}

type stubProvider struct {
	profile *client.GitHubProfile
	token   string
	err     error
}

func (p *stubProvider) AuthCodeURL(state string) (string, error) {
	return "https://github.com/login/oauth/authorize?client_id=test&state=" + state, nil
}

func (p *stubProvider) Exchange(context.Context, string) (*client.GitHubProfile, string, error) {
	return p.profile, p.token, p.err
}

type testServer struct {
	router   *gin.Engine
	store    *memoryStore
	identity *service.IdentityService
}

func newTestServer(t *testing.T, provider service.OAuthProvider, opts ...func(*RouterDeps)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if provider == nil {
		provider = &stubProvider{}
	}
	identity, err := service.NewIdentityService(provider, config.AuthConfig{
		SessionSecret:  "handler-test-secret",
		SessionTTL:     "1h",
		CookieSecure:   "false",
		CookieSameSite: "lax",
	})
	require.NoError(t, err)

	store := newMemoryStore()
	sessions := service.NewSessionAccessor(identity, identity.CookieConfig().Name, testOwner)
	submissions := service.NewSubmissionService(store, sessions, nil)

	deps := RouterDeps{
		Auth:     NewAuthHandler(identity, sessions, testBaseURL),
		Posts:    NewPostHandler(store, submissions),
		Sessions: sessions,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		AllowedOrigins: []string{"http://frontend.test"},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router := NewRouter(deps)
	return &testServer{router: router, store: store, identity: identity}
}

func (s *testServer) sessionCookie(t *testing.T, login, providerToken string) *http.Cookie {
	t.Helper()
	token, _, err := s.identity.IssueSessionToken(model.Identity{Login: login, DisplayName: login, ProviderAccessToken: providerToken})
	require.NoError(t, err)
	return &http.Cookie{Name: s.identity.CookieConfig().Name, Value: token}
}

func (s *testServer) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(c)
		}
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
