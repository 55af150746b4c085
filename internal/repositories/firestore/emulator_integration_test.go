//go:build integration

package firestore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	pconfig "github.com/hanko-field/checkout/internal/platform/config"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
)

// newEmulatorProvider binds a provider to the emulator in FIRESTORE_EMULATOR_HOST, e.g. one started
// with `gcloud emulators firestore start --host-port=127.0.0.1:8080`. Each call gets its own project
// so tests never see each other's documents.
func newEmulatorProvider(t *testing.T, name string) *pfirestore.Provider {
	t.Helper()
	host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	projectID := fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: host})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := provider.Client(ctx); err != nil {
		t.Fatalf("connect to emulator at %s: %v", host, err)
	}
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}
