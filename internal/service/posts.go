package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/discussblog/backend/internal/client"
	"github.com/discussblog/backend/internal/config"
	"github.com/discussblog/backend/internal/metrics"
	"github.com/discussblog/backend/internal/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	titleRuneLimit = 80

	WriteCredentialCaller  = "caller"
	WriteCredentialService = "service"
)

const getRepoIDQuery = `query GetRepoId($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    id
  }
}`

const getDiscussionsQuery = `query GetDiscussions($owner: String!, $name: String!, $first: Int = 10, $after: String, $categoryId: ID) {
  repository(owner: $owner, name: $name) {
    discussions(first: $first, after: $after, categoryId: $categoryId, orderBy: {field: CREATED_AT, direction: DESC}) {
      pageInfo {
        endCursor
        hasNextPage
      }
      nodes {
        id
        number
        title
        body
        createdAt
        url
        author {
          login
          avatarUrl
        }
      }
    }
  }
}`

const getDiscussionQuery = `query GetDiscussion($owner: String!, $name: String!, $number: Int!) {
  repository(owner: $owner, name: $name) {
    discussion(number: $number) {
      id
      number
      title
      body
      createdAt
      url
      author {
        login
        avatarUrl
      }
    }
  }
}`

const createDiscussionMutation = `mutation CreateDiscussion($repositoryId: ID!, $categoryId: ID!, $title: String!, $body: String!) {
  createDiscussion(input: {repositoryId: $repositoryId, categoryId: $categoryId, title: $title, body: $body}) {
    discussion {
      id
      number
      url
    }
  }
}`

// GraphQLDoer is satisfied by *client.GraphQLClient.
type GraphQLDoer interface {
	Do(ctx context.Context, token string, req client.GraphQLRequest, out any) error
}

// PostStore reads and writes blog posts stored as GitHub discussions.
type PostStore struct {
	gql             GraphQLDoer
	owner           string
	name            string
	categoryID      string
	serviceToken    string
	writeCredential string
	repoID          repositoryIDCache
	metrics         metrics.Recorder
}

type repositoryData struct {
	Repository *struct {
		ID string `json:"id"`
	} `json:"repository"`
}

type discussionsData struct {
	Repository *struct {
		Discussions struct {
			Nodes    []model.DiscussionPost `json:"nodes"`
			PageInfo model.PageInfo         `json:"pageInfo"`
		} `json:"discussions"`
	} `json:"repository"`
}

type discussionData struct {
	Repository *struct {
		Discussion *model.DiscussionPost `json:"discussion"`
	} `json:"repository"`
}

type createDiscussionData struct {
	CreateDiscussion *struct {
		Discussion *model.CreatedPost `json:"discussion"`
	} `json:"createDiscussion"`
}

func NewPostStore(gql GraphQLDoer, cfg config.GitHubConfig, rec metrics.Recorder) (*PostStore, error) {
	writeCredential := strings.ToLower(strings.TrimSpace(cfg.WriteCredential))
	if writeCredential == "" {
		writeCredential = WriteCredentialCaller
	}
	if writeCredential != WriteCredentialCaller && writeCredential != WriteCredentialService {
		return nil, fmt.Errorf("%w: GITHUB_WRITE_CREDENTIAL must be %q or %q", ErrMisconfigured, WriteCredentialCaller, WriteCredentialService)
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &PostStore{
		gql:             gql,
		owner:           strings.TrimSpace(cfg.RepositoryOwner),
		name:            strings.TrimSpace(cfg.RepositoryName),
		categoryID:      strings.TrimSpace(cfg.CategoryID),
		serviceToken:    strings.TrimSpace(cfg.APIToken),
		writeCredential: writeCredential,
		metrics:         rec,
	}, nil
}

// ListPosts returns one page of posts, newest first. Failures are logged and
// degrade to an empty page.
func (s *PostStore) ListPosts(ctx context.Context, first int, after string) model.PostPage {
	empty := model.PostPage{Posts: []model.DiscussionPost{}}

	if !s.hasRepository() {
		log.Error().Str("operation", "GetDiscussions").Msg("repository owner/name not configured")
		return empty
	}

	if first <= 0 {
		first = DefaultPageSize
	}
	if first > MaxPageSize {
		first = MaxPageSize
	}
	vars := map[string]any{
		"owner": s.owner,
		"name":  s.name,
		"first": first,
	}
	if after != "" {
		vars["after"] = after
	}
	if s.categoryID != "" {
		vars["categoryId"] = s.categoryID
	}

	var data discussionsData
	err := s.call(ctx, s.serviceToken, client.GraphQLRequest{
		OperationName: "GetDiscussions",
		Query:         getDiscussionsQuery,
		Variables:     vars,
	}, &data)
	if err != nil || data.Repository == nil {
		return empty
	}

	page := model.PostPage{
		Posts:    make([]model.DiscussionPost, 0, len(data.Repository.Discussions.Nodes)),
		PageInfo: data.Repository.Discussions.PageInfo,
	}
	for _, node := range data.Repository.Discussions.Nodes {
		// null nodes decode to zero values
		if node.ID == "" || node.Number <= 0 {
			continue
		}
		page.Posts = append(page.Posts, node)
	}
	return page
}

// GetPost fetches one post. A missing discussion is ErrPostNotFound; transport
// and protocol failures are ErrRemoteUnavailable.
func (s *PostStore) GetPost(ctx context.Context, number int) (*model.DiscussionPost, error) {
	// GraphQL Int is 32-bit; larger numbers cannot name a discussion.
	if number <= 0 || number > math.MaxInt32 {
		return nil, ErrPostNotFound
	}
	if !s.hasRepository() {
		return nil, fmt.Errorf("%w: GITHUB_REPOSITORY_OWNER/GITHUB_REPOSITORY_NAME are required", ErrMisconfigured)
	}

	var data discussionData
	err := s.call(ctx, s.serviceToken, client.GraphQLRequest{
		OperationName: "GetDiscussion",
		Query:         getDiscussionQuery,
		Variables: map[string]any{
			"owner":  s.owner,
			"name":   s.name,
			"number": number,
		},
	}, &data)
	if err != nil {
		var gqlErr *client.GraphQLError
		if errors.As(err, &gqlErr) && gqlErr.HasType("NOT_FOUND") &&
			data.Repository != nil && data.Repository.Discussion == nil {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if data.Repository == nil {
		return nil, fmt.Errorf("%w: repository %s/%s not visible", ErrRemoteUnavailable, s.owner, s.name)
	}
	if data.Repository.Discussion == nil {
		return nil, ErrPostNotFound
	}
	return data.Repository.Discussion, nil
}

// CreatePost creates a discussion in the configured category. An empty title
// is derived from the body.
func (s *PostStore) CreatePost(ctx context.Context, title, body, callerToken string) (*model.CreatedPost, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrInvalidInput
	}
	token, err := s.writeToken(callerToken)
	if err != nil {
		return nil, err
	}
	if !s.hasRepository() || s.categoryID == "" {
		return nil, fmt.Errorf("%w: repository and discussion category are required", ErrMisconfigured)
	}

	repoID, err := s.RepositoryID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	var data createDiscussionData
	err = s.call(ctx, token, client.GraphQLRequest{
		OperationName: "CreateDiscussion",
		Query:         createDiscussionMutation,
		Variables: map[string]any{
			"repositoryId": repoID,
			"categoryId":   s.categoryID,
			"title":        deriveTitle(title, body),
			"body":         body,
		},
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	if data.CreateDiscussion == nil || data.CreateDiscussion.Discussion == nil {
		log.Error().Str("operation", "CreateDiscussion").Msg("response carried no discussion")
		return nil, ErrCreationFailed
	}
	return data.CreateDiscussion.Discussion, nil
}

// RepositoryID resolves the repository node id once per process. Concurrent
// first callers share a single lookup; a failed lookup is retried by the next
// caller.
func (s *PostStore) RepositoryID(ctx context.Context, token string) (string, error) {
	return s.repoID.get(ctx, func(ctx context.Context) (string, error) {
		var data repositoryData
		err := s.call(ctx, token, client.GraphQLRequest{
			OperationName: "GetRepoId",
			Query:         getRepoIDQuery,
			Variables: map[string]any{
				"owner": s.owner,
				"name":  s.name,
			},
		}, &data)
		if err == nil && (data.Repository == nil || data.Repository.ID == "") {
			err = fmt.Errorf("repository id for %s/%s not found in response", s.owner, s.name)
		}
		if err != nil {
			s.metrics.RecordRepositoryResolution("error")
			return "", err
		}
		s.metrics.RecordRepositoryResolution("ok")
		log.Info().Str("owner", s.owner).Str("repo", s.name).Msg("resolved repository id")
		return data.Repository.ID, nil
	})
}

// WriteCredential reports the configured write policy.
func (s *PostStore) WriteCredential() string {
	return s.writeCredential
}

func (s *PostStore) writeToken(callerToken string) (string, error) {
	if s.writeCredential == WriteCredentialService {
		if s.serviceToken == "" {
			return "", fmt.Errorf("%w: GITHUB_API_TOKEN is required when GITHUB_WRITE_CREDENTIAL=service", ErrMisconfigured)
		}
		return s.serviceToken, nil
	}
	if strings.TrimSpace(callerToken) == "" {
		return "", ErrTokenMissing
	}
	return callerToken, nil
}

func (s *PostStore) hasRepository() bool {
	return s.owner != "" && s.name != ""
}

// call runs one GraphQL request, records it and logs failures with the
// remote error entries attached.
func (s *PostStore) call(ctx context.Context, token string, req client.GraphQLRequest, out any) error {
	start := time.Now()
	err := s.gql.Do(ctx, token, req, out)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		event := log.Error().Err(err).
			Str("operation", req.OperationName).
			Str("owner", s.owner).
			Str("repo", s.name)
		var gqlErr *client.GraphQLError
		if errors.As(err, &gqlErr) {
			event = event.Int("status", gqlErr.StatusCode).Interface("graphql_errors", gqlErr.Errors)
		}
		event.Msg("github graphql request failed")
	}
	s.metrics.RecordRemoteCall(req.OperationName, outcome, time.Since(start))
	return err
}

// deriveTitle uses title when it has content, otherwise the first 80
// characters of body with "..." appended when truncated.
func deriveTitle(title, body string) string {
	if strings.TrimSpace(title) != "" {
		return title
	}
	if utf8.RuneCountInString(body) <= titleRuneLimit {
		return body
	}
	runes := []rune(body)
	return string(runes[:titleRuneLimit]) + "..."
}

type repositoryIDCache struct {
	value atomic.Pointer[string]
	group singleflight.Group
}

func (c *repositoryIDCache) get(ctx context.Context, resolve func(context.Context) (string, error)) (string, error) {
	if id := c.value.Load(); id != nil {
		return *id, nil
	}

	// The shared lookup must outlive any single waiter's cancellation.
	ch := c.group.DoChan("repository", func() (any, error) {
		if id := c.value.Load(); id != nil {
			return *id, nil
		}
		id, err := resolve(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		c.value.Store(&id)
		return id, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}
