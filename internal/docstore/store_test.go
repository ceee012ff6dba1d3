package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type animalRecord struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Kind     string `json:"kind"`
	SeenAt   string `json:"seen_at"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:docstore_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Document{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func TestPutOverwritesExistingDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := animalRecord{ID: "a-1", TenantID: "zoo", Kind: "lynx"}
	if err := store.Put(ctx, "animals", first.ID, first); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	second := animalRecord{ID: "a-1", TenantID: "zoo", Kind: "otter"}
	if err := store.Put(ctx, "animals", second.ID, second); err != nil {
		t.Fatalf("unexpected put error on overwrite: %v", err)
	}

	var loaded animalRecord
	if err := store.Get(ctx, "animals", "a-1", &loaded); err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.Kind != "otter" {
		t.Fatalf("expected overwritten document, got kind %q", loaded.Kind)
	}
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := animalRecord{ID: "a-1", TenantID: "zoo", Kind: "lynx"}
	if err := store.Insert(ctx, "animals", record.ID, record); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	err := store.Insert(ctx, "animals", record.ID, record)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}

	var loaded animalRecord
	if err := store.Get(ctx, "animals", "a-1", &loaded); err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.Kind != "lynx" {
		t.Fatalf("expected original document to survive the collision, got kind %q", loaded.Kind)
	}
}

func TestSameKeyInDifferentCollectionsDoesNotCollide(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Insert(ctx, "animals", "shared", animalRecord{ID: "shared", Kind: "lynx"}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	if err := store.Insert(ctx, "plants", "shared", animalRecord{ID: "shared", Kind: "fern"}); err != nil {
		t.Fatalf("expected key to be scoped per collection, got %v", err)
	}
}

func TestGetReportsMissingKey(t *testing.T) {
	store := newTestStore(t)

	var loaded animalRecord
	err := store.Get(context.Background(), "animals", "missing", &loaded)
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected key not found error, got %v", err)
	}
}

func TestDeleteReportsMissingKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Insert(ctx, "animals", "a-1", animalRecord{ID: "a-1"}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	if err := store.Delete(ctx, "animals", "a-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	err := store.Delete(ctx, "animals", "a-1")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected key not found on repeated delete, got %v", err)
	}
}

func TestExistsReflectsStoredDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "animals", "a-1")
	if err != nil {
		t.Fatalf("unexpected exists error: %v", err)
	}
	if exists {
		t.Fatalf("expected missing document to report false")
	}
	if err := store.Insert(ctx, "animals", "a-1", animalRecord{ID: "a-1"}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	exists, err = store.Exists(ctx, "animals", "a-1")
	if err != nil {
		t.Fatalf("unexpected exists error: %v", err)
	}
	if !exists {
		t.Fatalf("expected stored document to report true")
	}
}

func TestFindFiltersOnAttributeEquality(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []animalRecord{
		{ID: "a-1", TenantID: "zoo", Kind: "lynx"},
		{ID: "a-2", TenantID: "zoo", Kind: "otter"},
		{ID: "a-3", TenantID: "farm", Kind: "goat"},
	}
	for _, record := range seed {
		if err := store.Insert(ctx, "animals", record.ID, record); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}

	found, err := Find[animalRecord](ctx, store, Query{
		Collection: "animals",
		Filters:    []Filter{{Attribute: "tenant_id", Value: "zoo"}},
	})
	if err != nil {
		t.Fatalf("unexpected find error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(found))
	}
	for _, record := range found {
		if record.TenantID != "zoo" {
			t.Fatalf("unexpected tenant in result: %q", record.TenantID)
		}
	}
}

func TestFindCombinesEqualityAndMembershipFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []animalRecord{
		{ID: "a-1", TenantID: "zoo", Kind: "lynx"},
		{ID: "a-2", TenantID: "zoo", Kind: "otter"},
		{ID: "a-3", TenantID: "zoo", Kind: "goat"},
		{ID: "a-4", TenantID: "farm", Kind: "lynx"},
	}
	for _, record := range seed {
		if err := store.Insert(ctx, "animals", record.ID, record); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}

	found, err := Find[animalRecord](ctx, store, Query{
		Collection: "animals",
		Filters: []Filter{
			{Attribute: "tenant_id", Value: "zoo"},
			{Attribute: "kind", Values: []string{"lynx", "goat"}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected find error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(found))
	}
	for _, record := range found {
		if record.ID == "a-2" || record.ID == "a-4" {
			t.Fatalf("unexpected document in result: %q", record.ID)
		}
	}
}

func TestFindOrdersDescendingAndAppliesLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []animalRecord{
		{ID: "a-1", TenantID: "zoo", SeenAt: "2026-01-01T00:00:01Z"},
		{ID: "a-2", TenantID: "zoo", SeenAt: "2026-01-01T00:00:03Z"},
		{ID: "a-3", TenantID: "zoo", SeenAt: "2026-01-01T00:00:02Z"},
	}
	for _, record := range seed {
		if err := store.Insert(ctx, "animals", record.ID, record); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}

	found, err := Find[animalRecord](ctx, store, Query{
		Collection:  "animals",
		Filters:     []Filter{{Attribute: "tenant_id", Value: "zoo"}},
		OrderByDesc: "seen_at",
		Limit:       2,
	})
	if err != nil {
		t.Fatalf("unexpected find error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected limit to truncate to 2, got %d", len(found))
	}
	if found[0].ID != "a-2" || found[1].ID != "a-3" {
		t.Fatalf("expected newest-first ordering, got %q then %q", found[0].ID, found[1].ID)
	}
}

func TestFindRejectsUnsafeAttributeNames(t *testing.T) {
	store := newTestStore(t)

	_, err := Find[animalRecord](context.Background(), store, Query{
		Collection: "animals",
		Filters:    []Filter{{Attribute: "kind') OR 1=1 --", Value: "lynx"}},
	})
	if err == nil {
		t.Fatalf("expected invalid attribute to be rejected")
	}
}

func TestFindAllReturnsCollectionOrderedByKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if err := store.Insert(ctx, "animals", id, animalRecord{ID: id}); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}

	found, err := FindAll[animalRecord](ctx, store, "animals")
	if err != nil {
		t.Fatalf("unexpected find error: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(found))
	}
	if found[0].ID != "a" || found[1].ID != "b" || found[2].ID != "c" {
		t.Fatalf("expected key ordering, got %v", found)
	}
}
