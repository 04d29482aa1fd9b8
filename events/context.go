package events

import "context"

// Actor is the request-scoped origin of an event.
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
	SessionID string
}

type actorKey struct{}

// WithActor attaches a to ctx. Empty fields of a inherit from an actor
// already present.
func WithActor(ctx context.Context, a Actor) context.Context {
	prev := ActorFromContext(ctx)
	if a.UserID == "" {
		a.UserID = prev.UserID
	}
	if a.IPAddress == "" {
		a.IPAddress = prev.IPAddress
	}
	if a.UserAgent == "" {
		a.UserAgent = prev.UserAgent
	}
	if a.SessionID == "" {
		a.SessionID = prev.SessionID
	}
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the attached actor or the zero value.
func ActorFromContext(ctx context.Context) Actor {
	if ctx == nil {
		return Actor{}
	}
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}
