package gmail

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pierre-ai/pierre/internal/tools"
)

func b64url(s string) string {
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(s))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClientWithHTTP(ts.Client(), ts.URL)
}

func TestSearch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/messages":
			if got := r.URL.Query().Get("q"); got != "from:boss" {
				t.Errorf("query = %q", got)
			}
			if got := r.URL.Query().Get("maxResults"); got != "10" {
				t.Errorf("default maxResults = %q", got)
			}
			w.Write([]byte(`{"messages":[{"id":"m1","threadId":"t1"}],"resultSizeEstimate":1}`))
		case r.URL.Path == "/messages/m1":
			w.Write([]byte(`{
				"id": "m1", "threadId": "t1", "snippet": "Quarterly review...",
				"payload": {"headers": [
					{"name": "Subject", "value": "Review"},
					{"name": "From", "value": "boss@example.com"},
					{"name": "Date", "value": "Mon, 1 Sep 2025 10:00:00 +0000"}
				]}
			}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	result, err := client.Search(context.Background(), "from:boss", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Total != 1 || len(result.Results) != 1 {
		t.Fatalf("result = %+v", result)
	}
	got := result.Results[0]
	if got.Subject != "Review" || got.From != "boss@example.com" || got.Snippet != "Quarterly review..." {
		t.Errorf("summary = %+v", got)
	}
}

func TestReadEmailMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "full" {
			t.Errorf("format = %q", r.URL.Query().Get("format"))
		}
		w.Write([]byte(`{
			"id": "m2", "threadId": "t2", "labelIds": ["INBOX", "UNREAD"],
			"payload": {
				"mimeType": "multipart/alternative",
				"headers": [
					{"name": "Subject", "value": "Lunch?"},
					{"name": "From", "value": "friend@example.com"},
					{"name": "To", "value": "me@example.com"}
				],
				"parts": [
					{"mimeType": "text/html", "body": {"data": "` + b64url("<p>html body</p>") + `"}},
					{"mimeType": "text/plain", "body": {"data": "` + b64url("plain body") + `"}}
				]
			}
		}`))
	})

	email, err := client.ReadEmail(context.Background(), "m2")
	if err != nil {
		t.Fatalf("ReadEmail: %v", err)
	}
	// text/plain wins over text/html regardless of part order.
	if email.Body != "plain body" {
		t.Errorf("body = %q", email.Body)
	}
	if email.Subject != "Lunch?" || len(email.Labels) != 2 {
		t.Errorf("email = %+v", email)
	}
}

func TestExtractBodyNestedMultipart(t *testing.T) {
	p := &payload{
		MimeType: "multipart/mixed",
		Parts: []*payload{
			{MimeType: "application/pdf"},
			{
				MimeType: "multipart/alternative",
				Parts: []*payload{
					{MimeType: "text/plain", Body: struct {
						Data string `json:"data"`
					}{Data: b64url("nested text")}},
				},
			},
		},
	}
	if got := extractBody(p); got != "nested text" {
		t.Errorf("extractBody = %q", got)
	}
}

func TestExtractBodyEmpty(t *testing.T) {
	if got := extractBody(nil); got != "" {
		t.Errorf("nil payload = %q", got)
	}
	if got := extractBody(&payload{MimeType: "multipart/mixed"}); got != "" {
		t.Errorf("empty multipart = %q", got)
	}
}

func TestListLabels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/labels" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"labels":[
			{"id":"INBOX","name":"INBOX","type":"system","messagesTotal":120,"messagesUnread":4},
			{"id":"L1","name":"Receipts","type":"user"}
		]}`))
	})

	labels, err := client.ListLabels(context.Background())
	if err != nil {
		t.Fatalf("ListLabels: %v", err)
	}
	if len(labels) != 2 || labels[0].MessagesUnread != 4 {
		t.Errorf("labels = %+v", labels)
	}
}

func TestListUnreadUsesQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/messages" {
			if got := r.URL.Query().Get("q"); got != "is:unread" {
				t.Errorf("query = %q", got)
			}
			w.Write([]byte(`{"resultSizeEstimate":0}`))
			return
		}
		t.Errorf("unexpected path %s", r.URL.Path)
	})

	result, err := client.ListUnread(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListUnread: %v", err)
	}
	if result.Total != 0 || len(result.Results) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestGmailTools(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("backend down"))
	})

	reg := tools.NewRegistry()
	Register(reg, client)

	for _, name := range []string{"gmail_search", "gmail_read_email", "gmail_list_unread", "gmail_list_labels"} {
		if reg.Get(name) == nil {
			t.Errorf("tool %s not registered", name)
		}
	}

	// Service failures surface as error text the model can read.
	out := reg.ExecuteSafe(context.Background(), "gmail_list_labels", `{}`)
	if !strings.HasPrefix(out, "Error: ") {
		t.Errorf("expected error text, got %q", out)
	}

	out = reg.ExecuteSafe(context.Background(), "gmail_read_email", `{}`)
	if !strings.Contains(out, "message_id is required") {
		t.Errorf("expected validation error, got %q", out)
	}
}
