package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/gurukul/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesIdentityRoles(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&users.Identity{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	seed := []users.Identity{
		{ExternalID: "user_lower", Email: "lower@x.com", Role: "instructor"},
		{ExternalID: "user_bogus", Email: "bogus@x.com", Role: "SUPERUSER"},
		{ExternalID: "user_admin", Email: "admin@x.com", Role: users.RoleAdmin},
	}
	if err := database.Create(&seed).Error; err != nil {
		testContext.Fatalf("failed to insert identities: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	expected := map[string]users.Role{
		"user_lower": users.RoleInstructor,
		"user_bogus": users.RoleStudent,
		"user_admin": users.RoleAdmin,
	}
	for externalID, role := range expected {
		var stored users.Identity
		if err := database.Where("external_id = ?", externalID).Take(&stored).Error; err != nil {
			testContext.Fatalf("failed to reload %s: %v", externalID, err)
		}
		if stored.Role != role {
			testContext.Fatalf("expected %s to have role %s, got %s", externalID, role, stored.Role)
		}
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeIdentityRoles).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "once.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&users.Identity{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("first run failed: %v", err)
	}
	if err := database.Create(&users.Identity{ExternalID: "user_late", Email: "late@x.com", Role: "admin"}).Error; err != nil {
		testContext.Fatalf("failed to insert identity: %v", err)
	}
	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("second run failed: %v", err)
	}

	var stored users.Identity
	if err := database.Where("external_id = ?", "user_late").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload identity: %v", err)
	}
	if stored.Role != "admin" {
		testContext.Fatalf("expected already-applied migration to be skipped, got role %s", stored.Role)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected one migration record, got %d", count)
	}
}
