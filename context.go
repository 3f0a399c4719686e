package authcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type deviceInfoContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine records
// it on refresh sessions and audit events, and keys the login limiter on it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit events.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithDeviceInfo attaches a free-form device label to ctx. It is stored on
// the refresh session so revocation tooling can show where a family lives.
func WithDeviceInfo(ctx context.Context, deviceInfo string) context.Context {
	return context.WithValue(ctx, deviceInfoContextKey{}, deviceInfo)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func deviceInfoFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	deviceInfo, _ := ctx.Value(deviceInfoContextKey{}).(string)
	return deviceInfo
}
