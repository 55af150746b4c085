//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/hanko-field/checkout/internal/platform/config"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
)

type claimProbe struct {
	SessionKey string `firestore:"session_key"`
	Attempts   int    `firestore:"attempts"`
}

// Runs against the emulator named by FIRESTORE_EMULATOR_HOST, e.g. one started with
// `gcloud emulators firestore start`.
func newProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "checkout-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func TestBaseRepositoryRoundTrip(t *testing.T) {
	provider := newProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[claimProbe](provider, "claim_probes")
	if err := repo.Set(ctx, "sess-1", claimProbe{SessionKey: "sess-1", Attempts: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := repo.Update(ctx, "sess-1", []firestore.Update{{Path: "attempts", Value: 2}}, firestore.Exists); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, err := repo.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Data.Attempts != 2 || doc.UpdateTime.IsZero() {
		t.Fatalf("unexpected document %#v", doc)
	}

	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("session_key", "==", "sess-1")
	})
	if err != nil || len(docs) != 1 {
		t.Fatalf("query: %v (%d docs)", err, len(docs))
	}

	_, err = repo.Get(ctx, "missing")
	var classified interface{ IsNotFound() bool }
	if !errors.As(err, &classified) || !classified.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.Update(ctx, "missing", []firestore.Update{{Path: "attempts", Value: 1}}, firestore.Exists); err == nil {
		t.Fatalf("expected update of missing document to fail")
	}
}

func TestProviderTransaction(t *testing.T) {
	provider := newProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[claimProbe](provider, "claim_probes")
	if err := repo.Set(ctx, "sess-tx", claimProbe{SessionKey: "sess-tx"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "sess-tx")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var probe claimProbe
		if err := snap.DataTo(&probe); err != nil {
			return err
		}
		probe.Attempts++
		return tx.Set(ref, probe)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	doc, err := repo.Get(ctx, "sess-tx")
	if err != nil || doc.Data.Attempts != 1 {
		t.Fatalf("expected one attempt recorded, got %#v (%v)", doc.Data, err)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	err = provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
