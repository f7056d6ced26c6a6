package tools

import "context"

type contextKey string

const (
	userKey         contextKey = "user"
	conversationKey contextKey = "conversation_id"
)

// WithUser attaches the owning user id to the context so tool handlers
// can scope their reads and writes.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext retrieves the user id, or "default" if unset.
func UserFromContext(ctx context.Context) string {
	if u, ok := ctx.Value(userKey).(string); ok && u != "" {
		return u
	}
	return "default"
}

// WithConversationID attaches a conversation id to the context.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey, id)
}

// ConversationIDFromContext retrieves the conversation id, or "" if unset.
func ConversationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(conversationKey).(string); ok {
		return id
	}
	return ""
}
