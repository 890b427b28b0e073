package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/discussblog/backend/internal/client"
	"github.com/discussblog/backend/internal/config"
	"github.com/discussblog/backend/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPosts(t *testing.T) {
	fake := newFakeGitHub()
	fake.addPost("first", "one")
	fake.addPost("second", "two")
	fake.addPost("third", "three")
	store := newTestPostStore(t, fake)

	page := store.ListPosts(context.Background(), 2, "")
	require.Len(t, page.Posts, 2)
	assert.Equal(t, "third", page.Posts[0].Title)
	assert.Equal(t, "second", page.Posts[1].Title)
	assert.True(t, page.PageInfo.HasNextPage)
	require.NotNil(t, page.PageInfo.EndCursor)

	req := fake.last("GetDiscussions")
	assert.Equal(t, "Bearer "+testAPIToken, req.Auth)
	assert.Equal(t, testCategoryID, req.Variables["categoryId"])
	assert.NotContains(t, req.Variables, "after")

	next := store.ListPosts(context.Background(), 2, *page.PageInfo.EndCursor)
	require.Len(t, next.Posts, 1)
	assert.Equal(t, "first", next.Posts[0].Title)
	assert.False(t, next.PageInfo.HasNextPage)
	assert.Equal(t, *page.PageInfo.EndCursor, fake.last("GetDiscussions").Variables["after"])
}

func TestListPostsPageSize(t *testing.T) {
	fake := newFakeGitHub()
	store := newTestPostStore(t, fake)

	cases := []struct {
		in   int
		want float64
	}{
		{in: 0, want: DefaultPageSize},
		{in: -3, want: DefaultPageSize},
		{in: 15, want: 15},
		{in: 500, want: MaxPageSize},
	}
	for _, tc := range cases {
		store.ListPosts(context.Background(), tc.in, "")
		assert.Equal(t, tc.want, fake.last("GetDiscussions").Variables["first"], "first=%d", tc.in)
	}
}

func TestListPostsDegradesOnFailure(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		fake := newFakeGitHub()
		fake.addPost("kept", "body")
		fake.failStatus = http.StatusBadGateway
		store := newTestPostStore(t, fake)

		page := store.ListPosts(context.Background(), 10, "")
		require.NotNil(t, page.Posts)
		assert.Empty(t, page.Posts)
		assert.False(t, page.PageInfo.HasNextPage)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		cfg := testGitHubConfig(srv.URL)
		srv.Close()

		store, err := NewPostStore(client.NewGraphQLClient(cfg), cfg, nil)
		require.NoError(t, err)

		page := store.ListPosts(context.Background(), 10, "")
		require.NotNil(t, page.Posts)
		assert.Empty(t, page.Posts)
		assert.False(t, page.PageInfo.HasNextPage)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		}))
		t.Cleanup(srv.Close)
		cfg := testGitHubConfig(srv.URL)
		cfg.RequestTimeout = 50 * time.Millisecond

		store, err := NewPostStore(client.NewGraphQLClient(cfg), cfg, nil)
		require.NoError(t, err)

		page := store.ListPosts(context.Background(), 10, "")
		assert.Empty(t, page.Posts)
		assert.False(t, page.PageInfo.HasNextPage)
	})

	t.Run("no service token", func(t *testing.T) {
		fake := newFakeGitHub()
		store := newTestPostStore(t, fake, func(cfg *config.GitHubConfig) { cfg.APIToken = "" })

		page := store.ListPosts(context.Background(), 10, "")
		assert.Empty(t, page.Posts)
		assert.Equal(t, 0, fake.total())
	})
}

func TestGetPost(t *testing.T) {
	fake := newFakeGitHub()
	created := fake.addPost("hello", "hello body")
	store := newTestPostStore(t, fake)

	post, err := store.GetPost(context.Background(), created.Number)
	require.NoError(t, err)
	assert.Equal(t, created.ID, post.ID)
	assert.Equal(t, "hello body", post.Body)
	require.NotNil(t, post.Author)
	assert.Equal(t, testOwner, post.Author.Login)
	assert.True(t, created.CreatedAt.Equal(post.CreatedAt))
}

func TestGetPostNotFound(t *testing.T) {
	fake := newFakeGitHub()
	store := newTestPostStore(t, fake)

	post, err := store.GetPost(context.Background(), 999)
	assert.Nil(t, post)
	assert.ErrorIs(t, err, ErrPostNotFound)

	for _, n := range []int{0, -1, 1 << 31, 1 << 40} {
		post, err = store.GetPost(context.Background(), n)
		assert.Nil(t, post)
		assert.ErrorIs(t, err, ErrPostNotFound)
	}
	assert.Equal(t, 1, fake.total())
}

func TestListPostsSkipsNullNodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"repository":{"discussions":{
			"nodes":[null,{"id":"D_1","number":1,"title":"kept","body":"b","createdAt":"2024-01-01T00:00:00Z","url":"https://example.test/1"},null],
			"pageInfo":{"hasNextPage":false,"endCursor":null}}}}}`))
	}))
	t.Cleanup(srv.Close)
	cfg := testGitHubConfig(srv.URL)

	store, err := NewPostStore(client.NewGraphQLClient(cfg), cfg, nil)
	require.NoError(t, err)

	page := store.ListPosts(context.Background(), 10, "")
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "D_1", page.Posts[0].ID)
	assert.Equal(t, 1, page.Posts[0].Number)
}

func TestGetPostRemoteUnavailable(t *testing.T) {
	fake := newFakeGitHub()
	fake.addPost("hidden", "body")
	fake.failStatus = http.StatusServiceUnavailable
	store := newTestPostStore(t, fake)

	post, err := store.GetPost(context.Background(), 1)
	assert.Nil(t, post)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.NotErrorIs(t, err, ErrPostNotFound)
}

func TestRepositoryIDSingleFlight(t *testing.T) {
	fake := newFakeGitHub()
	fake.repoDelay = 100 * time.Millisecond
	store := newTestPostStore(t, fake)

	const callers = 32
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		ids   = make([]string, callers)
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ids[i], errs[i] = store.RepositoryID(context.Background(), "gho_owner")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, testRepoID, ids[i])
	}
	assert.Equal(t, 1, fake.count("GetRepoId"))

	id, err := store.RepositoryID(context.Background(), "gho_owner")
	require.NoError(t, err)
	assert.Equal(t, testRepoID, id)
	assert.Equal(t, 1, fake.count("GetRepoId"))
}

func TestRepositoryIDRetriesAfterFailure(t *testing.T) {
	fake := newFakeGitHub()
	fake.repoFailures = 1
	store := newTestPostStore(t, fake)

	_, err := store.RepositoryID(context.Background(), "gho_owner")
	require.Error(t, err)

	id, err := store.RepositoryID(context.Background(), "gho_owner")
	require.NoError(t, err)
	assert.Equal(t, testRepoID, id)

	_, err = store.RepositoryID(context.Background(), "gho_owner")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.count("GetRepoId"))
}

func TestRepositoryIDCallerCancelled(t *testing.T) {
	fake := newFakeGitHub()
	fake.repoDelay = 100 * time.Millisecond
	store := newTestPostStore(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := store.RepositoryID(ctx, "gho_owner")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	id, err := store.RepositoryID(context.Background(), "gho_owner")
	require.NoError(t, err)
	assert.Equal(t, testRepoID, id)
	assert.Equal(t, 1, fake.count("GetRepoId"))
}

func TestCreatePostTitle(t *testing.T) {
	long := strings.Repeat("abcdefghij", 12)
	short := strings.Repeat("x", 50)

	cases := []struct {
		name  string
		title string
		body  string
		want  string
	}{
		{name: "long body truncated", body: long, want: long[:80] + "..."},
		{name: "short body kept", body: short, want: short},
		{name: "exactly eighty", body: long[:80], want: long[:80]},
		{name: "explicit title", title: "My title", body: long, want: "My title"},
		{name: "blank title derives", title: "   ", body: short, want: short},
		{name: "multibyte", body: strings.Repeat("é", 81), want: strings.Repeat("é", 80) + "..."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeGitHub()
			store := newTestPostStore(t, fake)

			created, err := store.CreatePost(context.Background(), tc.title, tc.body, "gho_owner")
			require.NoError(t, err)

			post, err := store.GetPost(context.Background(), created.Number)
			require.NoError(t, err)
			assert.Equal(t, tc.want, post.Title)
			assert.Equal(t, tc.body, post.Body)
		})
	}
}

func TestCreatePostWriteCredential(t *testing.T) {
	t.Run("caller token", func(t *testing.T) {
		fake := newFakeGitHub()
		store := newTestPostStore(t, fake)

		_, err := store.CreatePost(context.Background(), "", "body", "gho_owner")
		require.NoError(t, err)
		assert.Equal(t, "Bearer gho_owner", fake.last("CreateDiscussion").Auth)
		assert.Equal(t, "Bearer gho_owner", fake.last("GetRepoId").Auth)
	})

	t.Run("caller token missing", func(t *testing.T) {
		fake := newFakeGitHub()
		store := newTestPostStore(t, fake)

		_, err := store.CreatePost(context.Background(), "", "body", "")
		assert.ErrorIs(t, err, ErrTokenMissing)
		assert.Equal(t, 0, fake.total())
	})

	t.Run("service token", func(t *testing.T) {
		fake := newFakeGitHub()
		store := newTestPostStore(t, fake, func(cfg *config.GitHubConfig) {
			cfg.WriteCredential = WriteCredentialService
		})

		_, err := store.CreatePost(context.Background(), "", "body", "gho_owner")
		require.NoError(t, err)
		assert.Equal(t, "Bearer "+testAPIToken, fake.last("CreateDiscussion").Auth)
	})

	t.Run("service token missing", func(t *testing.T) {
		fake := newFakeGitHub()
		store := newTestPostStore(t, fake, func(cfg *config.GitHubConfig) {
			cfg.WriteCredential = WriteCredentialService
			cfg.APIToken = ""
		})

		_, err := store.CreatePost(context.Background(), "", "body", "gho_owner")
		assert.ErrorIs(t, err, ErrMisconfigured)
		assert.Equal(t, 0, fake.total())
	})
}

func TestCreatePostFailures(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		fake := newFakeGitHub()
		store := newTestPostStore(t, fake)

		_, err := store.CreatePost(context.Background(), "title", " \n\t", "gho_owner")
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, 0, fake.total())
	})

	t.Run("missing category", func(t *testing.T) {
		fake := newFakeGitHub()
		store := newTestPostStore(t, fake, func(cfg *config.GitHubConfig) { cfg.CategoryID = "" })

		_, err := store.CreatePost(context.Background(), "", "body", "gho_owner")
		assert.ErrorIs(t, err, ErrMisconfigured)
		assert.Equal(t, 0, fake.total())
	})

	t.Run("mutation rejected", func(t *testing.T) {
		fake := newFakeGitHub()
		store := newTestPostStore(t, fake, func(cfg *config.GitHubConfig) { cfg.CategoryID = "DIC_unknown" })

		created, err := store.CreatePost(context.Background(), "", "body", "gho_owner")
		assert.Nil(t, created)
		assert.ErrorIs(t, err, ErrCreationFailed)

		var gqlErr *client.GraphQLError
		assert.False(t, errors.As(err, &gqlErr))
	})

	t.Run("repository lookup fails", func(t *testing.T) {
		fake := newFakeGitHub()
		fake.repoFailures = 1
		store := newTestPostStore(t, fake)

		_, err := store.CreatePost(context.Background(), "", "body", "gho_owner")
		assert.ErrorIs(t, err, ErrCreationFailed)
		assert.Equal(t, 0, fake.count("CreateDiscussion"))
	})
}

func TestNewPostStoreWriteCredential(t *testing.T) {
	cfg := testGitHubConfig("http://127.0.0.1:0")

	cfg.WriteCredential = ""
	store, err := NewPostStore(client.NewGraphQLClient(cfg), cfg, metrics.Nop{})
	require.NoError(t, err)
	assert.Equal(t, WriteCredentialCaller, store.WriteCredential())

	cfg.WriteCredential = "both"
	_, err = NewPostStore(client.NewGraphQLClient(cfg), cfg, metrics.Nop{})
	assert.ErrorIs(t, err, ErrMisconfigured)
}
