package oauth

import "context"

// Props identifies the caller of a protected request. It is fixed when the
// user authorizes a client and travels inside the access token.
type Props struct {
	Subject     string
	ClientID    string
	Permissions []string
}

type propsKey struct{}

// WithProps returns a context carrying props.
func WithProps(ctx context.Context, props Props) context.Context {
	return context.WithValue(ctx, propsKey{}, props)
}

// PropsFromContext returns the props placed by the bearer middleware.
func PropsFromContext(ctx context.Context) (Props, bool) {
	props, ok := ctx.Value(propsKey{}).(Props)
	return props, ok
}
