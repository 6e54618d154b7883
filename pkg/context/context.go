// Package context carries per-request identity through service calls.
package context

import "context"

type key string

const (
	requestIDKey key = "request_id"
	actorIDKey   key = "actor_id"
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, requestIDKey)
}

// SetActorID stores the stakeholder performing the request. It is the raw
// header value; handlers parse and reject malformed ids.
func SetActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

func GetActorID(ctx context.Context) string {
	return getString(ctx, actorIDKey)
}

func getString(ctx context.Context, k key) string {
	value, _ := ctx.Value(k).(string)
	return value
}
