package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const appSecretResource = "projects/checkout-test/secrets/app_secret/versions/latest"

type stubAccessClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newStubAccessClient() *stubAccessClient {
	return &stubAccessClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (s *stubAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.GetName()]++
	if err := s.errs[req.GetName()]; err != nil {
		return nil, err
	}
	value, ok := s.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "no such secret")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (s *stubAccessClient) Close() error { return nil }

func (s *stubAccessClient) callsFor(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func writeFallback(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestResolveCachesRemoteValue(t *testing.T) {
	client := newStubAccessClient()
	client.values[appSecretResource] = "remote"
	f, err := NewFetcher(context.Background(), withClient(client), WithDefaultProject("checkout-test"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := f.Resolve(context.Background(), "secret://app_secret")
		require.NoError(t, err)
		assert.Equal(t, "remote", got)
	}
	assert.Equal(t, 1, client.callsFor(appSecretResource))
}

func TestResolveRefetchesAfterTTLAndInvalidate(t *testing.T) {
	client := newStubAccessClient()
	client.values[appSecretResource] = "v1"
	f, err := NewFetcher(context.Background(), withClient(client), WithDefaultProject("checkout-test"), WithCacheTTL(time.Minute))
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	got, err := f.Resolve(context.Background(), "secret://app_secret")
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	client.mu.Lock()
	client.values[appSecretResource] = "v2"
	client.mu.Unlock()
	now = now.Add(2 * time.Minute)
	got, err = f.Resolve(context.Background(), "secret://app_secret")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	client.mu.Lock()
	client.values[appSecretResource] = "v3"
	client.mu.Unlock()
	f.Invalidate("secret://app_secret")
	got, err = f.Resolve(context.Background(), "secret://app_secret")
	require.NoError(t, err)
	assert.Equal(t, "v3", got)
	assert.Equal(t, 3, client.callsFor(appSecretResource))
}

func TestResolveFallsBackOnAccessErrors(t *testing.T) {
	client := newStubAccessClient()
	client.errs[appSecretResource] = status.Error(codes.PermissionDenied, "denied")
	path := writeFallback(t, "# local secrets", "secret://app_secret=from-file")
	f, err := NewFetcher(context.Background(), withClient(client), WithDefaultProject("checkout-test"), WithFallbackFile(path))
	require.NoError(t, err)

	got, err := f.Resolve(context.Background(), "secret://app_secret")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)
}

func TestResolveNotFoundSkipsFallback(t *testing.T) {
	client := newStubAccessClient()
	path := writeFallback(t, "secret://app_secret=from-file")
	f, err := NewFetcher(context.Background(), withClient(client), WithDefaultProject("checkout-test"), WithFallbackFile(path))
	require.NoError(t, err)

	_, err = f.Resolve(context.Background(), "secret://app_secret")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveHonoursVersionPins(t *testing.T) {
	client := newStubAccessClient()
	client.values["projects/checkout-test/secrets/wallet_api_key/versions/4"] = "pinned-prod"
	client.values["projects/checkout-test/secrets/wallet_api_key/versions/2"] = "pinned-any"
	f, err := NewFetcher(context.Background(),
		withClient(client),
		WithDefaultProject("checkout-test"),
		WithEnvironment("prod"),
		WithVersionPins(map[string]string{
			"prod:secret://wallet_api_key": "4",
			"secret://wallet_api_key":      "2",
		}),
	)
	require.NoError(t, err)

	got, err := f.Resolve(context.Background(), "secret://wallet_api_key")
	require.NoError(t, err)
	assert.Equal(t, "pinned-prod", got)

	got, err = f.Resolve(context.Background(), "secret://wallet_api_key?version=2")
	require.NoError(t, err)
	assert.Equal(t, "pinned-any", got)
}

func TestResolveProjectSelection(t *testing.T) {
	client := newStubAccessClient()
	client.values["projects/checkout-stg/secrets/app_secret/versions/latest"] = "staging"
	client.values["projects/other/secrets/app_secret/versions/latest"] = "override"
	f, err := NewFetcher(context.Background(),
		withClient(client),
		WithDefaultProject("checkout-test"),
		WithEnvironment("STG"),
		WithProjectMap(map[string]string{"stg": "checkout-stg"}),
	)
	require.NoError(t, err)

	got, err := f.Resolve(context.Background(), "secret://app_secret")
	require.NoError(t, err)
	assert.Equal(t, "staging", got)

	got, err = f.Resolve(context.Background(), "sm://app_secret?project=other")
	require.NoError(t, err)
	assert.Equal(t, "override", got)
}

func TestResolveCachesPerProject(t *testing.T) {
	client := newStubAccessClient()
	client.values["projects/proj-a/secrets/k/versions/latest"] = "from-a"
	client.values["projects/proj-b/secrets/k/versions/latest"] = "from-b"
	f, err := NewFetcher(context.Background(), withClient(client), WithDefaultProject("proj-a"))
	require.NoError(t, err)

	for range 2 {
		got, err := f.Resolve(context.Background(), "secret://k")
		require.NoError(t, err)
		assert.Equal(t, "from-a", got)

		got, err = f.Resolve(context.Background(), "secret://k?project=proj-b")
		require.NoError(t, err)
		assert.Equal(t, "from-b", got)
	}
	assert.Equal(t, 1, client.callsFor("projects/proj-a/secrets/k/versions/latest"))
	assert.Equal(t, 1, client.callsFor("projects/proj-b/secrets/k/versions/latest"))

	f.Invalidate("secret://k")
	_, err = f.Resolve(context.Background(), "secret://k?project=proj-b")
	require.NoError(t, err)
	assert.Equal(t, 2, client.callsFor("projects/proj-b/secrets/k/versions/latest"))
}

func TestNewFetcherWithoutCredentialsServesFallback(t *testing.T) {
	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (accessClient, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newSecretManagerClient = original })

	path := writeFallback(t, "secret://app_secret#3=third", "secret://app_secret=default")
	f, err := NewFetcher(context.Background(), WithDefaultProject("checkout-test"), WithFallbackFile(path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	got, err := f.Resolve(context.Background(), "secret://app_secret")
	require.NoError(t, err)
	assert.Equal(t, "default", got)

	got, err = f.Resolve(context.Background(), "secret://app_secret?version=3")
	require.NoError(t, err)
	assert.Equal(t, "third", got)

	_, err = f.Resolve(context.Background(), "secret://missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference(" secret://wallet/api_key?version=7&project=p1 ")
	require.NoError(t, err)
	assert.Equal(t, Reference{Canonical: "secret://wallet/api_key", Name: "wallet/api_key", Version: "7", Project: "p1"}, ref)

	for _, bad := range []string{"", "https://example.com/x", "secret://"} {
		_, err := ParseReference(bad)
		assert.Error(t, err, bad)
	}
}
