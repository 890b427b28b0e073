package service

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/discussblog/backend/internal/client"
	"github.com/discussblog/backend/internal/config"
	"github.com/discussblog/backend/internal/metrics"
	"github.com/discussblog/backend/internal/model"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

const (
	testOwner      = "octocat"
	testRepo       = "blog"
	testCategoryID = "DIC_kwDOcategory"
	testRepoID     = "R_kgDOrepo"
	testAPIToken   = "ghp_service"
)

type recordedRequest struct {
	Operation string
	Auth      string
	Variables map[string]any
}

// fakeGitHub is an in-memory GitHub GraphQL endpoint holding discussions.
type fakeGitHub struct {
	mu         sync.Mutex
	requests   []recordedRequest
	posts      map[int]model.DiscussionPost
	order      []int
	nextNumber int

	repoDelay    time.Duration
	repoFailures int
	failStatus   int
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{posts: map[int]model.DiscussionPost{}, nextNumber: 1}
}

func (f *fakeGitHub) addPost(title, body string) model.DiscussionPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addPostLocked(title, body)
}

func (f *fakeGitHub) addPostLocked(title, body string) model.DiscussionPost {
	n := f.nextNumber
	f.nextNumber++
	post := model.DiscussionPost{
		ID:        fmt.Sprintf("D_kwDO%d", n),
		Number:    n,
		Title:     title,
		Body:      body,
		CreatedAt: time.Date(2024, 5, 1, 12, n, 0, 0, time.UTC),
		URL:       fmt.Sprintf("https://github.com/%s/%s/discussions/%d", testOwner, testRepo, n),
		Author:    &model.DiscussionAuthor{Login: testOwner, AvatarURL: "https://avatars.githubusercontent.com/u/1"},
	}
	f.posts[n] = post
	f.order = append(f.order, n)
	return post
}

func (f *fakeGitHub) count(operation string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Operation == operation {
			n++
		}
	}
	return n
}

func (f *fakeGitHub) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeGitHub) last(operation string) recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Operation == operation {
			return f.requests[i]
		}
	}
	return recordedRequest{}
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req client.GraphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Operation: req.OperationName,
		Auth:      r.Header.Get("Authorization"),
		Variables: req.Variables,
	})
	failStatus := f.failStatus
	f.mu.Unlock()

	if failStatus != 0 {
		w.WriteHeader(failStatus)
		_, _ = w.Write([]byte(`{"message":"Server Error"}`))
		return
	}

	var resp any
	switch req.OperationName {
	case "GetRepoId":
		resp = f.repoID()
	case "GetDiscussions":
		resp = f.discussions(req.Variables)
	case "GetDiscussion":
		resp = f.discussion(req.Variables)
	case "CreateDiscussion":
		resp = f.create(req.Variables)
	default:
		http.Error(w, "unknown operation", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeGitHub) repoID() any {
	if f.repoDelay > 0 {
		time.Sleep(f.repoDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.repoFailures > 0 {
		f.repoFailures--
		return map[string]any{
			"data":   map[string]any{"repository": nil},
			"errors": []map[string]any{{"type": "NOT_FOUND", "message": "Could not resolve to a Repository."}},
		}
	}
	return map[string]any{"data": map[string]any{"repository": map[string]any{"id": testRepoID}}}
}

func (f *fakeGitHub) discussions(vars map[string]any) any {
	f.mu.Lock()
	defer f.mu.Unlock()

	first := int(vars["first"].(float64))
	start := len(f.order) - 1
	if after, ok := vars["after"].(string); ok {
		_, _ = fmt.Sscanf(strings.TrimPrefix(after, "cursor:"), "%d", &start)
		start--
	}

	nodes := []model.DiscussionPost{}
	i := start
	for ; i >= 0 && len(nodes) < first; i-- {
		nodes = append(nodes, f.posts[f.order[i]])
	}
	pageInfo := map[string]any{"hasNextPage": i >= 0, "endCursor": nil}
	if len(nodes) > 0 {
		pageInfo["endCursor"] = fmt.Sprintf("cursor:%d", i+1)
	}
	return map[string]any{"data": map[string]any{"repository": map[string]any{
		"discussions": map[string]any{"nodes": nodes, "pageInfo": pageInfo},
	}}}
}

func (f *fakeGitHub) discussion(vars map[string]any) any {
	f.mu.Lock()
	defer f.mu.Unlock()

	number := int(vars["number"].(float64))
	post, ok := f.posts[number]
	if !ok {
		return map[string]any{
			"data": map[string]any{"repository": map[string]any{"discussion": nil}},
			"errors": []map[string]any{{
				"type":    "NOT_FOUND",
				"path":    []any{"repository", "discussion"},
				"message": fmt.Sprintf("Could not resolve to a Discussion with the number of %d.", number),
			}},
		}
	}
	return map[string]any{"data": map[string]any{"repository": map[string]any{"discussion": post}}}
}

func (f *fakeGitHub) create(vars map[string]any) any {
	f.mu.Lock()
	defer f.mu.Unlock()

	if vars["repositoryId"] != testRepoID || vars["categoryId"] != testCategoryID {
		return map[string]any{
			"data":   map[string]any{"createDiscussion": nil},
			"errors": []map[string]any{{"type": "NOT_FOUND", "message": "Could not resolve to a node."}},
		}
	}
	post := f.addPostLocked(vars["title"].(string), vars["body"].(string))
	return map[string]any{"data": map[string]any{"createDiscussion": map[string]any{
		"discussion": map[string]any{"id": post.ID, "number": post.Number, "url": post.URL},
	}}}
}

func testGitHubConfig(url string) config.GitHubConfig {
	return config.GitHubConfig{
		APIToken:        testAPIToken,
		RepositoryOwner: testOwner,
		RepositoryName:  testRepo,
		CategoryID:      testCategoryID,
		GraphQLURL:      url,
		RequestTimeout:  2 * time.Second,
		WriteCredential: WriteCredentialCaller,
	}
}

func newTestPostStore(t *testing.T, fake *fakeGitHub, mutate ...func(*config.GitHubConfig)) *PostStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := testGitHubConfig(srv.URL)
	for _, m := range mutate {
		m(&cfg)
	}
	store, err := NewPostStore(client.NewGraphQLClient(cfg), cfg, metrics.Nop{})
	require.NoError(t, err)
	return store
}
