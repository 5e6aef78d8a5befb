package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/gurukul/internal/sqlerr"
	"gorm.io/gorm"
)

var (
	// ErrStoreConflict indicates a uniqueness violation on external id or email.
	ErrStoreConflict = errors.New("users: identity already exists")
	// ErrStoreNotFound indicates that no identity matched the external id.
	ErrStoreNotFound = errors.New("users: identity not found")
	// ErrIncompleteIdentity indicates that a required column was left empty.
	ErrIncompleteIdentity = errors.New("users: identity data is incomplete")

	errMissingDatabase = errors.New("users: database connection required")
)

const (
	opInsert = "users.insert"
	opUpdate = "users.update"
	opDelete = "users.delete"
	opFind   = "users.find"
)

// StoreError wraps persistence failures that are neither conflicts nor missing rows.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code identifies the failed operation.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation string, cause error) error {
	return &StoreError{code: operation + ".failed", err: cause}
}

// StoreConfig describes the dependencies required by the identity store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store persists identity records keyed by the provider's external id.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore constructs an identity store bound to the provided database handle.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Insert creates a new identity. Uniqueness is enforced by the database at write time;
// a violation is reported as ErrStoreConflict.
func (s *Store) Insert(ctx context.Context, identity Identity) (Identity, error) {
	externalID, err := NewExternalID(identity.ExternalID)
	if err != nil {
		return Identity{}, err
	}
	email, err := NewEmail(identity.Email)
	if err != nil {
		return Identity{}, err
	}

	now := s.now().UTC()
	record := Identity{
		ExternalID:  externalID,
		Email:       email,
		DisplayName: identity.DisplayName,
		Role:        identity.Role,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if record.Role == "" {
		record.Role = RoleStudent
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		switch {
		case sqlerr.IsUniqueViolation(err):
			return Identity{}, fmt.Errorf("%w: %s", ErrStoreConflict, externalID)
		case sqlerr.IsNotNullViolation(err):
			return Identity{}, fmt.Errorf("%w: %v", ErrIncompleteIdentity, err)
		}
		return Identity{}, newStoreError(opInsert, err)
	}
	return record, nil
}

// UpdateByExternalID overwrites the provider-owned fields of an existing identity.
func (s *Store) UpdateByExternalID(ctx context.Context, externalID string, update IdentityUpdate) (Identity, error) {
	id, err := NewExternalID(externalID)
	if err != nil {
		return Identity{}, err
	}
	email, err := NewEmail(update.Email)
	if err != nil {
		return Identity{}, err
	}

	var updated Identity
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Identity{}).
			Where("external_id = ?", id).
			Updates(map[string]interface{}{
				"email":        email,
				"display_name": update.DisplayName,
				"updated_at":   s.now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStoreNotFound
		}
		return tx.Where("external_id = ?", id).Take(&updated).Error
	})
	if txErr != nil {
		switch {
		case errors.Is(txErr, ErrStoreNotFound):
			return Identity{}, fmt.Errorf("%w: %s", ErrStoreNotFound, id)
		case sqlerr.IsUniqueViolation(txErr):
			return Identity{}, fmt.Errorf("%w: email %s", ErrStoreConflict, email)
		default:
			return Identity{}, newStoreError(opUpdate, txErr)
		}
	}
	return updated, nil
}

// DeleteByExternalID physically removes the identity and reports whether a row existed.
func (s *Store) DeleteByExternalID(ctx context.Context, externalID string) (bool, error) {
	id, err := NewExternalID(externalID)
	if err != nil {
		return false, err
	}
	result := s.db.WithContext(ctx).Where("external_id = ?", id).Delete(&Identity{})
	if result.Error != nil {
		return false, newStoreError(opDelete, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FindByExternalID loads the identity for the provided external id.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (Identity, error) {
	id, err := NewExternalID(externalID)
	if err != nil {
		return Identity{}, err
	}
	var identity Identity
	err = s.db.WithContext(ctx).Where("external_id = ?", id).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, fmt.Errorf("%w: %s", ErrStoreNotFound, id)
	}
	if err != nil {
		return Identity{}, newStoreError(opFind, err)
	}
	return identity, nil
}
