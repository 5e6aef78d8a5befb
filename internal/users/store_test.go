package users

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T, clock func() time.Time) *Store {
	t.Helper()
	databaseName := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+databaseName+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store, err := NewStore(StoreConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestInsertDefaultsRoleToStudent(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newTestStore(t, func() time.Time { return createdAt })

	record, err := store.Insert(context.Background(), Identity{
		ExternalID:  "user_1",
		Email:       "a@x.com",
		DisplayName: ComposeDisplayName("Ada", "Lovelace"),
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if record.Role != RoleStudent {
		t.Fatalf("expected default role %s, got %s", RoleStudent, record.Role)
	}

	stored, err := store.FindByExternalID(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.Email != "a@x.com" || stored.DisplayNameOrEmpty() != "Ada Lovelace" || stored.Role != RoleStudent {
		t.Fatalf("unexpected stored identity: %+v", stored)
	}
	if !stored.CreatedAt.Equal(createdAt) {
		t.Fatalf("expected created_at %v, got %v", createdAt, stored.CreatedAt)
	}
}

func TestInsertReportsConflictOnDuplicateExternalIDOrEmail(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := store.Insert(ctx, Identity{ExternalID: "user_1", Email: "a@x.com"}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	_, err := store.Insert(ctx, Identity{ExternalID: "user_1", Email: "other@x.com"})
	if !errors.Is(err, ErrStoreConflict) {
		t.Fatalf("expected conflict for duplicate external id, got %v", err)
	}

	_, err = store.Insert(ctx, Identity{ExternalID: "user_2", Email: "a@x.com"})
	if !errors.Is(err, ErrStoreConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}
}

func TestUpdateByExternalIDOverwritesProviderFieldsOnly(t *testing.T) {
	current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newTestStore(t, func() time.Time { return current })
	ctx := context.Background()

	if _, err := store.Insert(ctx, Identity{ExternalID: "user_1", Email: "a@x.com", Role: RoleInstructor}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	current = current.Add(time.Hour)
	updated, err := store.UpdateByExternalID(ctx, "user_1", IdentityUpdate{
		Email:       "ada@x.com",
		DisplayName: ComposeDisplayName("Ada", "King"),
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Email != "ada@x.com" || updated.DisplayNameOrEmpty() != "Ada King" {
		t.Fatalf("unexpected updated identity: %+v", updated)
	}
	if updated.Role != RoleInstructor {
		t.Fatalf("update must not touch role, got %s", updated.Role)
	}
	if !updated.UpdatedAt.Equal(current) {
		t.Fatalf("expected updated_at %v, got %v", current, updated.UpdatedAt)
	}
}

func TestUpdateByExternalIDReportsNotFoundWithoutCreating(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	_, err := store.UpdateByExternalID(ctx, "user_missing", IdentityUpdate{Email: "a@x.com"})
	if !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.FindByExternalID(ctx, "user_missing"); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("update must not create a record, got %v", err)
	}
}

func TestUpdateByExternalIDReportsEmailConflict(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := store.Insert(ctx, Identity{ExternalID: "user_1", Email: "a@x.com"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := store.Insert(ctx, Identity{ExternalID: "user_2", Email: "b@x.com"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	_, err := store.UpdateByExternalID(ctx, "user_2", IdentityUpdate{Email: "a@x.com"})
	if !errors.Is(err, ErrStoreConflict) {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestDeleteByExternalIDReportsPresence(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := store.Insert(ctx, Identity{ExternalID: "user_1", Email: "a@x.com"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	wasPresent, err := store.DeleteByExternalID(ctx, "user_1")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !wasPresent {
		t.Fatalf("expected first delete to report presence")
	}

	wasPresent, err = store.DeleteByExternalID(ctx, "user_1")
	if err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if wasPresent {
		t.Fatalf("expected second delete to report absence")
	}
}

func TestStoreSurfacesGenericFailuresAsStoreError(t *testing.T) {
	store := newTestStore(t, nil)
	sqlDB, err := store.db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	_ = sqlDB.Close()

	_, err = store.FindByExternalID(context.Background(), "user_1")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
	if storeErr.Code() != "users.find.failed" {
		t.Fatalf("unexpected store error code: %s", storeErr.Code())
	}
	if errors.Is(err, ErrStoreNotFound) || errors.Is(err, ErrStoreConflict) {
		t.Fatalf("generic failure must not be classified as not found or conflict")
	}
}

func TestInsertClassifiesMissingRequiredColumn(t *testing.T) {
	store := newTestStore(t, time.Now)
	// A column added outside the model with no default rejects every insert.
	if err := store.db.Exec("ALTER TABLE users ADD COLUMN tenant_id TEXT NOT NULL").Error; err != nil {
		t.Fatalf("failed to add column: %v", err)
	}

	_, err := store.Insert(context.Background(), Identity{ExternalID: "user_1", Email: "a@x.com"})
	if !errors.Is(err, ErrIncompleteIdentity) {
		t.Fatalf("expected incomplete identity error, got %v", err)
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) || errors.Is(err, ErrStoreConflict) {
		t.Fatalf("not-null violation must not be reported as a generic failure or conflict: %v", err)
	}
}

func TestComposeDisplayName(t *testing.T) {
	testCases := []struct {
		first, last string
		want        string
		wantNil     bool
	}{
		{first: "Ada", last: "Lovelace", want: "Ada Lovelace"},
		{first: "Ada", last: "", want: "Ada"},
		{first: "", last: "Lovelace", want: "Lovelace"},
		{first: "  ", last: "", wantNil: true},
	}
	for _, testCase := range testCases {
		got := ComposeDisplayName(testCase.first, testCase.last)
		if testCase.wantNil {
			if got != nil {
				t.Fatalf("expected nil display name, got %q", *got)
			}
			continue
		}
		if got == nil || *got != testCase.want {
			t.Fatalf("ComposeDisplayName(%q, %q) = %v, want %q", testCase.first, testCase.last, got, testCase.want)
		}
	}
}
