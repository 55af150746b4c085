package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/hanko-field/checkout/internal/platform/httpx"
)

const (
	unauthorizedCode    = "gc_unauthorized"
	unauthorizedMessage = "Sorry, you are not allowed to do that."
)

// Header names the hosted checkout uses for its credentials. Both spellings are accepted.
var (
	appIDHeaders     = []string{"appid", "app-id"}
	appSecretHeaders = []string{"appsecret", "app-secret"}
)

// AppAuthenticator checks the shared app id/secret pair the hosted checkout sends on every call.
type AppAuthenticator struct {
	appID     []byte
	appSecret []byte
}

// NewAppAuthenticator constructs an authenticator for the configured credentials. Blank configured
// credentials reject every request.
func NewAppAuthenticator(appID, appSecret string) *AppAuthenticator {
	return &AppAuthenticator{
		appID:     []byte(strings.TrimSpace(appID)),
		appSecret: []byte(strings.TrimSpace(appSecret)),
	}
}

// Verify reports whether the presented credentials match. Both values must be present and non-empty.
func (a *AppAuthenticator) Verify(appID, appSecret string) bool {
	if a == nil || len(a.appID) == 0 || len(a.appSecret) == 0 {
		return false
	}
	appID = strings.TrimSpace(appID)
	appSecret = strings.TrimSpace(appSecret)
	if appID == "" || appSecret == "" {
		return false
	}
	idMatch := subtle.ConstantTimeCompare([]byte(appID), a.appID)
	secretMatch := subtle.ConstantTimeCompare([]byte(appSecret), a.appSecret)
	return idMatch&secretMatch == 1
}

// RequireAppCredentials rejects requests without valid app credentials with gc_unauthorized.
func (a *AppAuthenticator) RequireAppCredentials() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			appID := firstHeader(r.Header, appIDHeaders)
			if !a.Verify(appID, firstHeader(r.Header, appSecretHeaders)) {
				httpx.WriteError(r.Context(), w, httpx.NewError(unauthorizedCode, unauthorizedMessage, http.StatusUnauthorized))
				return
			}
			ctx := WithApp(r.Context(), &App{ID: appID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PresentedAppID returns the app id header without verifying it.
func PresentedAppID(r *http.Request) string {
	if r == nil {
		return ""
	}
	return firstHeader(r.Header, appIDHeaders)
}

func firstHeader(header http.Header, names []string) string {
	for _, name := range names {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			return value
		}
	}
	return ""
}
