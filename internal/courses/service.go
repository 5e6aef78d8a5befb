package courses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gurukul/internal/sqlerr"
	"github.com/MarcoPoloResearchLab/gurukul/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError wraps persistence failures the caller cannot act on.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "courses.service.new"
	opCreate        = "courses.create"
	opListPublished = "courses.list_published"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the course service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service creates and lists courses.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Create persists a new course owned by instructorID. The caller is expected to have
// already passed the role gate.
func (s *Service) Create(ctx context.Context, instructorID string, input CourseInput) (Course, error) {
	course, err := s.buildCourse(instructorID, input)
	if err != nil {
		return Course{}, err
	}

	err = s.db.WithContext(ctx).Omit(clause.Associations).Create(&course).Error
	switch {
	case err == nil:
	case sqlerr.IsUniqueViolation(err):
		return Course{}, fmt.Errorf("%w: %s", ErrSlugTaken, course.Slug)
	default:
		s.logger.Error("course create failed",
			zap.String("instructor_external_id", course.InstructorExternalID),
			zap.String("slug", course.Slug),
			zap.Error(err),
		)
		return Course{}, newServiceError(opCreate, "persist", err)
	}

	s.logger.Info("course created",
		zap.String("course_id", course.ID),
		zap.String("slug", course.Slug),
		zap.String("instructor_external_id", course.InstructorExternalID),
	)
	return course, nil
}

func (s *Service) buildCourse(instructorID string, input CourseInput) (Course, error) {
	instructor, err := users.NewExternalID(instructorID)
	if err != nil {
		return Course{}, fmt.Errorf("%w: %v", ErrInvalidCourse, err)
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Course{}, fmt.Errorf("%w: title required", ErrInvalidCourse)
	}
	if len(title) > maxTitleLength {
		return Course{}, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidCourse, maxTitleLength)
	}
	slug := Slugify(title)
	if slug == "" {
		return Course{}, fmt.Errorf("%w: title %q yields an empty slug", ErrInvalidCourse, title)
	}

	price, err := normalizePrice(input.Price)
	if err != nil {
		return Course{}, err
	}
	currency, err := normalizeCurrency(input.Currency)
	if err != nil {
		return Course{}, err
	}
	status, err := ParseStatus(input.Status)
	if err != nil {
		return Course{}, err
	}

	courseID, err := s.idProvider.NewID()
	if err != nil {
		return Course{}, newServiceError(opCreate, "id", err)
	}

	var coverImageKey *string
	if trimmed := strings.TrimSpace(input.CoverImageKey); trimmed != "" {
		coverImageKey = &trimmed
	}

	now := s.clock().UTC()
	return Course{
		ID:                   courseID,
		InstructorExternalID: instructor,
		Title:                title,
		Slug:                 slug,
		Description:          strings.TrimSpace(input.Description),
		DetailDescription:    strings.TrimSpace(input.DetailDescription),
		Categories:           JoinCategories(input.Categories),
		CoverImageKey:        coverImageKey,
		Price:                price,
		Currency:             currency,
		Status:               status,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// ListPublished returns published courses, newest first, with instructor display names.
func (s *Service) ListPublished(ctx context.Context) ([]Listing, error) {
	listings := make([]Listing, 0)
	err := s.db.WithContext(ctx).
		Table(Course{}.TableName()+" AS c").
		Select("c.id, c.title, c.slug, c.description, c.categories, c.cover_image_key, c.price, c.currency, c.created_at, u.display_name AS instructor_name").
		Joins("JOIN "+users.Identity{}.TableName()+" AS u ON u.external_id = c.instructor_external_id").
		Where("c.status = ?", StatusPublished).
		Order("c.created_at DESC").
		Scan(&listings).Error
	if err != nil {
		return nil, newServiceError(opListPublished, "query", err)
	}
	return listings, nil
}
