package model

import "time"

// DiscussionPost is a blog post backed by a GitHub discussion.
type DiscussionPost struct {
	ID        string            `json:"id"`
	Number    int               `json:"number"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	CreatedAt time.Time         `json:"createdAt"`
	URL       string            `json:"url"`
	Author    *DiscussionAuthor `json:"author"`
}

type DiscussionAuthor struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl"`
}

type PageInfo struct {
	EndCursor   *string `json:"endCursor,omitempty"`
	HasNextPage bool    `json:"hasNextPage"`
}

type PostPage struct {
	Posts    []DiscussionPost `json:"posts"`
	PageInfo PageInfo         `json:"pageInfo"`
}

// CreatedPost is what createDiscussion hands back.
type CreatedPost struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	URL    string `json:"url"`
}

type CreatePostRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type CreatePostResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	ID      string `json:"id"`
	Number  int    `json:"number"`
}
