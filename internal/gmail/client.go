// Package gmail provides read-only Gmail access over the REST API,
// authenticated with an OAuth2 refresh token.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/pierre-ai/pierre/internal/httpkit"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// Credentials hold the OAuth2 client and refresh token.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Client talks to the Gmail API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Gmail client. Access tokens are minted and
// refreshed automatically from the refresh token.
func NewClient(ctx context.Context, creds Credentials) *Client {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
	}
	token := &oauth2.Token{RefreshToken: creds.RefreshToken}

	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: conf.Client(ctx, token),
	}
}

// NewClientWithHTTP wraps a pre-authenticated HTTP client. Used in tests.
func NewClientWithHTTP(httpClient *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("gmail: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gmail: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gmail: %s: HTTP %d: %s", path, resp.StatusCode,
			httpkit.ReadErrorBody(resp.Body, 512))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gmail: %s: decode response: %w", path, err)
	}
	return nil
}

// Summary is a message in search/unread listing output.
type Summary struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Subject  string `json:"subject"`
	From     string `json:"from"`
	Date     string `json:"date"`
	Snippet  string `json:"snippet"`
}

// Email is the full content of one message.
type Email struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"thread_id"`
	Subject  string   `json:"subject"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Cc       string   `json:"cc,omitempty"`
	Date     string   `json:"date"`
	Body     string   `json:"body"`
	Labels   []string `json:"labels"`
}

// Label is one Gmail label with message counts.
type Label struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	MessagesTotal  int    `json:"messages_total"`
	MessagesUnread int    `json:"messages_unread"`
}

// SearchResult is the output of Search and ListUnread.
type SearchResult struct {
	Total   int       `json:"total"`
	Results []Summary `json:"results"`
}

// Wire types.
type messageList struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
	ResultSizeEstimate int `json:"resultSizeEstimate"`
}

type messageDetail struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	Snippet  string   `json:"snippet"`
	LabelIDs []string `json:"labelIds"`
	Payload  *payload `json:"payload"`
}

type payload struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []*payload `json:"parts"`
}

func (p *payload) header(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Search runs a Gmail query. maxResults defaults to 10.
func (c *Client) Search(ctx context.Context, query string, maxResults int) (*SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	params := url.Values{
		"q":          {query},
		"maxResults": {strconv.Itoa(maxResults)},
	}

	var list messageList
	if err := c.get(ctx, "/messages", params, &list); err != nil {
		return nil, err
	}

	out := &SearchResult{Total: list.ResultSizeEstimate}
	for _, m := range list.Messages {
		detail, err := c.metadata(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, Summary{
			ID:       m.ID,
			ThreadID: m.ThreadID,
			Subject:  detail.Payload.header("Subject"),
			From:     detail.Payload.header("From"),
			Date:     detail.Payload.header("Date"),
			Snippet:  detail.Snippet,
		})
	}
	return out, nil
}

// ListUnread lists unread messages. maxResults defaults to 10.
func (c *Client) ListUnread(ctx context.Context, maxResults int) (*SearchResult, error) {
	return c.Search(ctx, "is:unread", maxResults)
}

func (c *Client) metadata(ctx context.Context, id string) (*messageDetail, error) {
	params := url.Values{
		"format":          {"metadata"},
		"metadataHeaders": {"Subject", "From", "Date"},
	}
	var detail messageDetail
	if err := c.get(ctx, "/messages/"+id, params, &detail); err != nil {
		return nil, err
	}
	if detail.Payload == nil {
		detail.Payload = &payload{}
	}
	return &detail, nil
}

// ReadEmail fetches the full content of one message.
func (c *Client) ReadEmail(ctx context.Context, id string) (*Email, error) {
	params := url.Values{"format": {"full"}}

	var detail messageDetail
	if err := c.get(ctx, "/messages/"+id, params, &detail); err != nil {
		return nil, err
	}
	if detail.Payload == nil {
		detail.Payload = &payload{}
	}

	return &Email{
		ID:       detail.ID,
		ThreadID: detail.ThreadID,
		Subject:  detail.Payload.header("Subject"),
		From:     detail.Payload.header("From"),
		To:       detail.Payload.header("To"),
		Cc:       detail.Payload.header("Cc"),
		Date:     detail.Payload.header("Date"),
		Body:     extractBody(detail.Payload),
		Labels:   detail.LabelIDs,
	}, nil
}

// ListLabels lists all labels with message counts.
func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	var resp struct {
		Labels []struct {
			ID             string `json:"id"`
			Name           string `json:"name"`
			Type           string `json:"type"`
			MessagesTotal  int    `json:"messagesTotal"`
			MessagesUnread int    `json:"messagesUnread"`
		} `json:"labels"`
	}
	if err := c.get(ctx, "/labels", nil, &resp); err != nil {
		return nil, err
	}

	labels := make([]Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, Label{
			ID:             l.ID,
			Name:           l.Name,
			Type:           l.Type,
			MessagesTotal:  l.MessagesTotal,
			MessagesUnread: l.MessagesUnread,
		})
	}
	return labels, nil
}

// extractBody pulls the readable body from a MIME payload, preferring
// text/plain over text/html, recursing into nested multiparts.
func extractBody(p *payload) string {
	if p == nil {
		return ""
	}
	if p.Body.Data != "" {
		return decodeBase64URL(p.Body.Data)
	}

	for _, part := range p.Parts {
		if part.MimeType == "text/plain" && part.Body.Data != "" {
			return decodeBase64URL(part.Body.Data)
		}
	}
	for _, part := range p.Parts {
		if part.MimeType == "text/html" && part.Body.Data != "" {
			return decodeBase64URL(part.Body.Data)
		}
	}
	for _, part := range p.Parts {
		if len(part.Parts) > 0 {
			if nested := extractBody(part); nested != "" {
				return nested
			}
		}
	}
	return ""
}

func decodeBase64URL(data string) string {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}
