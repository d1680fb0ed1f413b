package api

import "context"

// Principal is the authenticated caller of a request. Agent is set for agent tokens
// and empty for the admin user.
type Principal struct {
	Subject string `json:"username"`
	Agent   string `json:"agent,omitempty"`
}

// IsAgent reports whether the caller authenticated with an agent token.
func (p Principal) IsAgent() bool { return p.Agent != "" }

type contextKey int

const ctxKeyPrincipal contextKey = 0

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFrom returns the caller stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return p, ok
}

// actor names the caller for audit fields: the agent id for agent tokens, else the
// subject, else fallback.
func actor(ctx context.Context, fallback string) string {
	p, ok := PrincipalFrom(ctx)
	switch {
	case !ok:
		return fallback
	case p.Agent != "":
		return p.Agent
	case p.Subject != "":
		return p.Subject
	}
	return fallback
}
