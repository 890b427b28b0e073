package service

import (
	"context"
	"errors"
	"strings"

	"github.com/discussblog/backend/internal/metrics"
	"github.com/discussblog/backend/internal/model"
	"github.com/rs/zerolog/log"
)

type PostCreator interface {
	CreatePost(ctx context.Context, title, body, callerToken string) (*model.CreatedPost, error)
}

type OwnerChecker interface {
	IsOwnerSession(sess *model.Session) bool
}

// SubmissionService is the owner-only write path. Checks run in a fixed
// order: owner, access token, body, then the remote call.
type SubmissionService struct {
	store   PostCreator
	owners  OwnerChecker
	metrics metrics.Recorder
}

func NewSubmissionService(store PostCreator, owners OwnerChecker, rec metrics.Recorder) *SubmissionService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &SubmissionService{store: store, owners: owners, metrics: rec}
}

// Authorize performs the local session checks and returns the caller's
// provider access token. Rejections are counted.
func (s *SubmissionService) Authorize(sess *model.Session) (string, error) {
	token, err := s.authorize(sess)
	if err != nil {
		s.metrics.RecordSubmission(submissionOutcome(err))
	}
	return token, err
}

func (s *SubmissionService) authorize(sess *model.Session) (string, error) {
	if !s.owners.IsOwnerSession(sess) {
		return "", ErrForbidden
	}
	token := strings.TrimSpace(sess.Identity.ProviderAccessToken)
	if token == "" {
		return "", ErrTokenMissing
	}
	return token, nil
}

func (s *SubmissionService) Submit(ctx context.Context, sess *model.Session, req model.CreatePostRequest) (*model.CreatedPost, error) {
	token, err := s.Authorize(sess)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Body) == "" {
		s.metrics.RecordSubmission(submissionOutcome(ErrInvalidInput))
		return nil, ErrInvalidInput
	}

	created, err := s.store.CreatePost(ctx, req.Title, req.Body, token)
	if err != nil {
		if !errors.Is(err, ErrMisconfigured) {
			err = ErrCreationFailed
		}
		s.metrics.RecordSubmission(submissionOutcome(err))
		return nil, err
	}
	if created == nil {
		s.metrics.RecordSubmission(submissionOutcome(ErrCreationFailed))
		return nil, ErrCreationFailed
	}

	log.Info().
		Str("login", sess.Identity.Login).
		Int("number", created.Number).
		Str("url", created.URL).
		Msg("post created")
	s.metrics.RecordSubmission("created")
	return created, nil
}

func submissionOutcome(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrTokenMissing):
		return "token_missing"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrMisconfigured):
		return "misconfigured"
	default:
		return "failed"
	}
}
