// GitHub GraphQL transport.
//
// Every call is a POST of {query, variables} to a single endpoint with a
// bearer token. A response carrying an "errors" array is a protocol error even
// when partial data is present; callers decide whether the data is usable.

package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/discussblog/backend/internal/config"
	json "github.com/goccy/go-json"
)

const maxResponseBytes = 4 << 20

var (
	ErrTransport         = errors.New("graphql transport error")
	ErrMissingCredential = errors.New("graphql credential missing")
)

type GraphQLClient struct {
	endpoint   string
	httpClient *http.Client
}

type GraphQLRequest struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage     `json:"data"`
	Errors []GraphQLErrorEntry `json:"errors"`
}

// GraphQLErrorEntry is one element of the "errors" array.
type GraphQLErrorEntry struct {
	Type      string          `json:"type,omitempty"`
	Message   string          `json:"message"`
	Path      []any           `json:"path,omitempty"`
	Locations []ErrorLocation `json:"locations,omitempty"`
}

type ErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is a protocol-level failure: a non-2xx status or an errors array.
type GraphQLError struct {
	Operation  string
	StatusCode int
	Errors     []GraphQLErrorEntry
}

func (e *GraphQLError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("graphql %s: unexpected status %d", e.Operation, e.StatusCode)
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, entry := range e.Errors {
		msgs = append(msgs, entry.Message)
	}
	return fmt.Sprintf("graphql %s: %s", e.Operation, strings.Join(msgs, "; "))
}

// HasType reports whether any error entry carries the given type, e.g. NOT_FOUND.
func (e *GraphQLError) HasType(errType string) bool {
	for _, entry := range e.Errors {
		if entry.Type == errType {
			return true
		}
	}
	return false
}

func NewGraphQLClient(cfg config.GitHubConfig) *GraphQLClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GraphQLClient{
		endpoint: cfg.GraphQLURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Do executes req with the given bearer token and decodes "data" into out.
// When the response has both data and errors, out is populated and a
// *GraphQLError is returned.
func (c *GraphQLClient) Do(ctx context.Context, token string, req GraphQLRequest, out any) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: %s", ErrMissingCredential, req.OperationName)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal graphql request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransport, req.OperationName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %s: failed to read response: %v", ErrTransport, req.OperationName, err)
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &GraphQLError{Operation: req.OperationName, StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("%w: %s: failed to parse response: %v", ErrTransport, req.OperationName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &GraphQLError{Operation: req.OperationName, StatusCode: resp.StatusCode, Errors: gqlResp.Errors}
	}

	if out != nil && len(gqlResp.Data) > 0 && string(gqlResp.Data) != "null" {
		if err := json.Unmarshal(gqlResp.Data, out); err != nil {
			return fmt.Errorf("%w: %s: failed to decode data: %v", ErrTransport, req.OperationName, err)
		}
	}

	if len(gqlResp.Errors) > 0 {
		return &GraphQLError{Operation: req.OperationName, StatusCode: resp.StatusCode, Errors: gqlResp.Errors}
	}
	return nil
}
