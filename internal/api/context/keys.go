package context

// Key is the type for values the middleware chain stores on the
// request context.
type Key string

const (
	Claims Key = "claims"
	Tenant Key = "tenant"
	Params Key = "params"
)
