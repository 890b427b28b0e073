package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/discussblog/backend/internal/model"
	"github.com/discussblog/backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog/log"
)

const defaultListPageSize = 15

// PostReader is the read side of the post store.
type PostReader interface {
	ListPosts(ctx context.Context, first int, after string) model.PostPage
	GetPost(ctx context.Context, number int) (*model.DiscussionPost, error)
}

type PostHandler struct {
	posts       PostReader
	submissions *service.SubmissionService
}

func NewPostHandler(posts PostReader, submissions *service.SubmissionService) *PostHandler {
	return &PostHandler{posts: posts, submissions: submissions}
}

// ListPosts godoc
// @Summary List posts
// @Description Newest first. Remote failures yield an empty page.
// @Tags posts
// @Produce json
// @Param first query int false "Page size (1-100, default 15)"
// @Param after query string false "Cursor from pageInfo.endCursor"
// @Success 200 {object} model.PostPage
// @Failure 400 {object} model.ErrorResponse
// @Router /api/posts [get]
func (h *PostHandler) ListPosts(c *gin.Context) {
	first := defaultListPageSize
	if raw := c.Query("first"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > service.MaxPageSize {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "first must be between 1 and 100"})
			return
		}
		first = n
	}

	c.JSON(http.StatusOK, h.posts.ListPosts(c.Request.Context(), first, c.Query("after")))
}

// GetPost godoc
// @Summary Get post by number
// @Tags posts
// @Produce json
// @Param number path int true "Discussion number"
// @Success 200 {object} model.DiscussionPost
// @Failure 404 {object} model.ErrorResponse
// @Failure 502 {object} model.ErrorResponse
// @Router /api/posts/{number} [get]
func (h *PostHandler) GetPost(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		writePostError(c, service.ErrPostNotFound)
		return
	}

	post, err := h.posts.GetPost(c.Request.Context(), number)
	if err != nil {
		writePostError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// CreatePost godoc
// @Summary Create post
// @Description Owner only. Title defaults to the first 80 characters of body.
// @Tags posts
// @Accept json
// @Produce json
// @Param request body model.CreatePostRequest true "Post"
// @Success 201 {object} model.CreatePostResponse
// @Failure 400 {object} model.MessageResponse
// @Failure 401 {object} model.MessageResponse
// @Failure 403 {object} model.MessageResponse
// @Failure 415 {object} model.MessageResponse
// @Failure 500 {object} model.MessageResponse
// @Router /api/post [post]
func (h *PostHandler) CreatePost(c *gin.Context) {
	sess := GetSession(c)

	// Authorization is decided before the body is even parsed.
	if _, err := h.submissions.Authorize(sess); err != nil {
		writePostError(c, err)
		return
	}

	if c.ContentType() != binding.MIMEJSON {
		c.JSON(http.StatusUnsupportedMediaType, model.MessageResponse{Message: "Content-Type must be application/json"})
		return
	}

	var req model.CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writePostError(c, service.ErrInvalidInput)
		return
	}

	created, err := h.submissions.Submit(c.Request.Context(), sess, req)
	if err != nil {
		writePostError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model.CreatePostResponse{
		Success: true,
		URL:     created.URL,
		ID:      created.ID,
		Number:  created.Number,
	})
}

func writePostError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, model.MessageResponse{Message: "Unauthorized: Only the blog owner can post."})
	case errors.Is(err, service.ErrTokenMissing):
		c.JSON(http.StatusUnauthorized, model.MessageResponse{Message: "Unauthorized: Access Token missing."})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, model.MessageResponse{Message: "Post body cannot be empty"})
	case errors.Is(err, service.ErrPostNotFound):
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "post not found"})
	case errors.Is(err, service.ErrRemoteUnavailable):
		c.JSON(http.StatusBadGateway, model.ErrorResponse{Error: "post store unavailable"})
	case errors.Is(err, service.ErrMisconfigured):
		log.Error().Err(err).Msg("post store misconfigured")
		c.JSON(http.StatusInternalServerError, model.MessageResponse{Message: "Post store is not configured. Check server logs."})
	default:
		c.JSON(http.StatusInternalServerError, model.MessageResponse{Message: "Failed to create discussion via GitHub API. Check server logs."})
	}
}
