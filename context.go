package goGuard

import (
	"context"

	"github.com/MrEthical07/goGuard/events"
)

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for limiter keys, login history and security events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return events.WithActor(ctx, events.Actor{IPAddress: ip})
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return events.WithActor(ctx, events.Actor{UserAgent: userAgent})
}

// WithLocation attaches a coarse client location (for example a country
// code from a CDN header). Login history uses it for location-change
// detection.
func WithLocation(ctx context.Context, location string) context.Context {
	return context.WithValue(ctx, locationContextKey{}, location)
}

type locationContextKey struct{}

func clientIPFromContext(ctx context.Context) string {
	if ip := events.ActorFromContext(ctx).IPAddress; ip != "" {
		return ip
	}
	return "unknown"
}

func userAgentFromContext(ctx context.Context) string {
	return events.ActorFromContext(ctx).UserAgent
}

func locationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	loc, _ := ctx.Value(locationContextKey{}).(string)
	return loc
}
