package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/gurukul/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeIdentityRoles = "2025-02-14_normalize_identity_roles"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeIdentityRoles, apply: normalizeIdentityRoles},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeIdentityRoles upper-cases role values written by older tooling and resets
// anything unrecognised to the least privileged role.
func normalizeIdentityRoles(db *gorm.DB) error {
	if err := db.Model(&users.Identity{}).
		Where("role <> UPPER(role)").
		Update("role", gorm.Expr("UPPER(role)")).Error; err != nil {
		return err
	}
	known := make([]string, 0, len(users.AllRoles()))
	for _, role := range users.AllRoles() {
		known = append(known, role.String())
	}
	return db.Model(&users.Identity{}).
		Where("role NOT IN ?", known).
		Update("role", users.RoleStudent).Error
}
