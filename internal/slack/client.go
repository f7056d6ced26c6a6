// Package slack provides read-only access to a Slack workspace: message
// search, channel listing, channel history, and unread collection.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pierre-ai/pierre/internal/httpkit"
)

const defaultBaseURL = "https://slack.com/api"

// Client talks to the Slack Web API with a bot or user token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Slack client.
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(20 * time.Second),
		),
	}
}

// SetBaseURL overrides the API endpoint. Used in tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
}

// apiEnvelope is the common wrapper on every Slack API response.
type apiEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	reqURL := c.baseURL + "/" + method
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack: %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: %s: HTTP %d: %s", method, resp.StatusCode,
			httpkit.ReadErrorBody(resp.Body, 512))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("slack: %s: decode response: %w", method, err)
	}
	return nil
}

// Message is a Slack message in search or history output.
type Message struct {
	Channel    string `json:"channel,omitempty"`
	Author     string `json:"author,omitempty"`
	User       string `json:"user,omitempty"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
	Permalink  string `json:"permalink,omitempty"`
	ThreadTS   string `json:"thread_ts,omitempty"`
	ReplyCount int    `json:"reply_count,omitempty"`
}

// Channel summarizes one Slack channel.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Topic       string `json:"topic,omitempty"`
	Purpose     string `json:"purpose,omitempty"`
	MemberCount int    `json:"member_count"`
	IsArchived  bool   `json:"is_archived"`
}

// SearchResult is the output of SearchMessages.
type SearchResult struct {
	Total   int       `json:"total"`
	Results []Message `json:"results"`
}

type searchResponse struct {
	apiEnvelope
	Messages struct {
		Total   int `json:"total"`
		Matches []struct {
			Channel struct {
				Name string `json:"name"`
			} `json:"channel"`
			Username  string `json:"username"`
			User      string `json:"user"`
			Text      string `json:"text"`
			TS        string `json:"ts"`
			Permalink string `json:"permalink"`
		} `json:"matches"`
	} `json:"messages"`
}

// SearchMessages searches workspace messages. Count defaults to 20.
func (c *Client) SearchMessages(ctx context.Context, query string, count int, sort string) (*SearchResult, error) {
	if count <= 0 {
		count = 20
	}
	if sort == "" {
		sort = "score"
	}

	params := url.Values{
		"query": {query},
		"count": {strconv.Itoa(count)},
		"sort":  {sort},
	}

	var resp searchResponse
	if err := c.call(ctx, "search.messages", params, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("slack: search.messages: %s", resp.Error)
	}

	out := &SearchResult{Total: resp.Messages.Total}
	for _, m := range resp.Messages.Matches {
		author := m.Username
		if author == "" {
			author = m.User
		}
		if author == "" {
			author = "unknown"
		}
		channel := m.Channel.Name
		if channel == "" {
			channel = "unknown"
		}
		out.Results = append(out.Results, Message{
			Channel:   channel,
			Author:    author,
			Text:      m.Text,
			Timestamp: slackTime(m.TS),
			Permalink: m.Permalink,
		})
	}
	return out, nil
}

type listResponse struct {
	apiEnvelope
	Channels []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Topic struct {
			Value string `json:"value"`
		} `json:"topic"`
		Purpose struct {
			Value string `json:"value"`
		} `json:"purpose"`
		NumMembers int  `json:"num_members"`
		IsArchived bool `json:"is_archived"`
	} `json:"channels"`
}

// ListChannels lists accessible channels. Limit defaults to 100; types
// is a comma-separated Slack type list (default public_channel).
func (c *Client) ListChannels(ctx context.Context, limit int, types string) ([]Channel, error) {
	if limit <= 0 {
		limit = 100
	}
	if types == "" {
		types = "public_channel"
	}

	params := url.Values{
		"limit": {strconv.Itoa(limit)},
		"types": {types},
	}

	var resp listResponse
	if err := c.call(ctx, "conversations.list", params, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("slack: conversations.list: %s", resp.Error)
	}

	channels := make([]Channel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		name := ch.Name
		if name == "" {
			name = ch.ID
		}
		channels = append(channels, Channel{
			ID:          ch.ID,
			Name:        name,
			Topic:       ch.Topic.Value,
			Purpose:     ch.Purpose.Value,
			MemberCount: ch.NumMembers,
			IsArchived:  ch.IsArchived,
		})
	}
	return channels, nil
}

type historyResponse struct {
	apiEnvelope
	Messages []struct {
		User       string `json:"user"`
		Text       string `json:"text"`
		TS         string `json:"ts"`
		ThreadTS   string `json:"thread_ts"`
		ReplyCount int    `json:"reply_count"`
	} `json:"messages"`
}

// ChannelHistory reads recent messages from a channel. Limit defaults
// to 20.
func (c *Client) ChannelHistory(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}

	params := url.Values{
		"channel": {channelID},
		"limit":   {strconv.Itoa(limit)},
	}

	var resp historyResponse
	if err := c.call(ctx, "conversations.history", params, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("slack: conversations.history: %s", resp.Error)
	}

	messages := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		user := m.User
		if user == "" {
			user = "unknown"
		}
		messages = append(messages, Message{
			User:       user,
			Text:       m.Text,
			Timestamp:  slackTime(m.TS),
			ThreadTS:   m.ThreadTS,
			ReplyCount: m.ReplyCount,
		})
	}
	return messages, nil
}

type infoResponse struct {
	apiEnvelope
	Channel struct {
		UnreadCount int `json:"unread_count"`
	} `json:"channel"`
}

// UnreadCount reports the unread message count for a channel.
func (c *Client) UnreadCount(ctx context.Context, channelID string) (int, error) {
	params := url.Values{"channel": {channelID}}

	var resp infoResponse
	if err := c.call(ctx, "conversations.info", params, &resp); err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, fmt.Errorf("slack: conversations.info: %s", resp.Error)
	}
	return resp.Channel.UnreadCount, nil
}

// UnreadChannel groups a channel's unread messages for GetUnread.
type UnreadChannel struct {
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	UnreadCount int       `json:"unread_count"`
	Messages    []Message `json:"messages"`
}

// GetUnread walks accessible channels collecting unread messages, up to
// limit items total. Channels that cannot be read are skipped.
func (c *Client) GetUnread(ctx context.Context, limit int) ([]UnreadChannel, error) {
	if limit <= 0 {
		limit = 20
	}

	channels, err := c.ListChannels(ctx, 200, "public_channel,private_channel,mpim,im")
	if err != nil {
		return nil, err
	}

	var unread []UnreadChannel
	collected := 0

	for _, ch := range channels {
		if collected >= limit {
			break
		}

		count, err := c.UnreadCount(ctx, ch.ID)
		if err != nil || count == 0 {
			continue // skip channels we can't access
		}

		fetch := min(count, limit-collected)
		fetch = min(fetch, 10)

		messages, err := c.ChannelHistory(ctx, ch.ID, fetch)
		if err != nil {
			continue
		}

		unread = append(unread, UnreadChannel{
			ChannelID:   ch.ID,
			ChannelName: ch.Name,
			UnreadCount: count,
			Messages:    messages,
		})
		collected += len(messages)
	}
	return unread, nil
}

// slackTime converts a Slack "seconds.micros" timestamp to RFC3339.
func slackTime(ts string) string {
	if ts == "" {
		return "unknown"
	}
	sec, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return "unknown"
	}
	return time.Unix(int64(sec), 0).UTC().Format(time.RFC3339)
}
