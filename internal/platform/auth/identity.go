package auth

import "context"

// App is the authenticated hosted-checkout caller.
type App struct {
	ID string
}

type contextKey string

const appContextKey contextKey = "github.com/hanko-field/checkout/internal/platform/auth/app"

// WithApp stores the authenticated app on the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appContextKey, app)
}

// AppFromContext retrieves the app stored by RequireAppCredentials.
func AppFromContext(ctx context.Context) (*App, bool) {
	if ctx == nil {
		return nil, false
	}
	app, ok := ctx.Value(appContextKey).(*App)
	if !ok || app == nil {
		return nil, false
	}
	return app, true
}
