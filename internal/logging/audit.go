package logging

import "log/slog"

// Audit records a security-relevant event. Audit entries ride the default
// structured logger and never return an error: failing to write an audit
// line must not fail the request that triggered it.
//
// Events follow the actor/ip/timestamp convention, e.g.
//
//	logging.Audit("authentication_failed",
//		"reason", "invalid_password",
//		"user_id", user.ID,
//		"ip", clientIP)
func Audit(event string, attrs ...any) {
	args := make([]any, 0, len(attrs)+2)
	args = append(args, "event", event)
	args = append(args, attrs...)
	slog.Info("security event", args...)
}
