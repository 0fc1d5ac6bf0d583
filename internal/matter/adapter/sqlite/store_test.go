package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/ports"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoadAttributesRoundTrips(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	target := addr.PeerAddress{FabricID: 1, NodeID: 2}

	reports := []ports.AttributeReport{
		{Endpoint: 1, Cluster: 6, Attribute: 0, Value: true, DataVersion: 5},
		{Endpoint: 1, Cluster: 6, Attribute: 1, Value: float64(42), DataVersion: 5},
	}
	if err := store.SaveAttributes(ctx, target, reports); err != nil {
		t.Fatalf("SaveAttributes: %v", err)
	}

	got, err := store.LoadAttributes(ctx, target)
	if err != nil {
		t.Fatalf("LoadAttributes: %v", err)
	}
	if len(got) != len(reports) {
		t.Fatalf("got %d reports, want %d", len(got), len(reports))
	}
	if got[0].Value != true {
		t.Errorf("got value %v, want true", got[0].Value)
	}
	if got[1].Value != float64(42) {
		t.Errorf("got value %v, want 42", got[1].Value)
	}
}

func TestSaveAttributesReplacesPreviousSet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	target := addr.PeerAddress{FabricID: 1, NodeID: 3}

	if err := store.SaveAttributes(ctx, target, []ports.AttributeReport{
		{Endpoint: 1, Cluster: 6, Attribute: 0, Value: true, DataVersion: 1},
	}); err != nil {
		t.Fatalf("SaveAttributes (first): %v", err)
	}
	if err := store.SaveAttributes(ctx, target, []ports.AttributeReport{
		{Endpoint: 2, Cluster: 8, Attribute: 0, Value: false, DataVersion: 2},
	}); err != nil {
		t.Fatalf("SaveAttributes (second): %v", err)
	}

	got, err := store.LoadAttributes(ctx, target)
	if err != nil {
		t.Fatalf("LoadAttributes: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d reports, want 1 (old set must be cleared)", len(got))
	}
	if got[0].Endpoint != 2 || got[0].Cluster != 8 {
		t.Fatalf("got %+v, want the second save's report", got[0])
	}
}

func TestLoadAttributesForUnknownTargetIsEmpty(t *testing.T) {
	store := openTestStore(t)
	got, err := store.LoadAttributes(context.Background(), addr.PeerAddress{FabricID: 9, NodeID: 9})
	if err != nil {
		t.Fatalf("LoadAttributes: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d reports, want 0", len(got))
	}
}

func TestDiscoveryRecordRoundTrips(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.SaveDiscoveryRecord(ctx, "ABCD._matter._tcp.local.", []byte("payload")); err != nil {
		t.Fatalf("SaveDiscoveryRecord: %v", err)
	}
	got, err := store.LoadDiscoveryRecord(ctx, "ABCD._matter._tcp.local.")
	if err != nil {
		t.Fatalf("LoadDiscoveryRecord: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}
}

func TestLoadDiscoveryRecordMissingReturnsNil(t *testing.T) {
	store := openTestStore(t)
	got, err := store.LoadDiscoveryRecord(context.Background(), "missing")
	if err != nil {
		t.Fatalf("LoadDiscoveryRecord: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestSaveDiscoveryRecordOverwritesExisting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.SaveDiscoveryRecord(ctx, "key", []byte("first")); err != nil {
		t.Fatalf("SaveDiscoveryRecord (first): %v", err)
	}
	if err := store.SaveDiscoveryRecord(ctx, "key", []byte("second")); err != nil {
		t.Fatalf("SaveDiscoveryRecord (second): %v", err)
	}
	got, err := store.LoadDiscoveryRecord(ctx, "key")
	if err != nil {
		t.Fatalf("LoadDiscoveryRecord: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("got %q, want %q", got, "second")
	}
}
