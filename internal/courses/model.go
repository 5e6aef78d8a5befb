// Package courses persists instructor-authored course listings.
package courses

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gurukul/internal/users"
)

// Status enumerates the publication states of a course.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusArchived  Status = "ARCHIVED"
)

const (
	defaultPrice    = "0"
	defaultCurrency = "INR"
	maxTitleLength  = 255
)

var (
	// ErrInvalidCourse indicates that course input failed validation.
	ErrInvalidCourse = errors.New("courses: invalid course")
	// ErrSlugTaken indicates that another course already owns the derived slug.
	ErrSlugTaken = errors.New("courses: slug already taken")

	slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)
	pricePattern   = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	currencyCode   = regexp.MustCompile(`^[A-Z]{3}$`)
)

// ParseStatus validates raw input and returns a Status. Empty input yields StatusDraft.
func ParseStatus(rawInput string) (Status, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return StatusDraft, nil
	}
	status := Status(trimmed)
	switch status {
	case StatusDraft, StatusPublished, StatusArchived:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidCourse, rawInput)
	}
}

// Course is a persisted course owned by an instructor identity.
type Course struct {
	ID                   string         `gorm:"column:id;primaryKey;size:36;not null"`
	InstructorExternalID string         `gorm:"column:instructor_external_id;size:255;not null;index:idx_courses_instructor"`
	Instructor           users.Identity `gorm:"foreignKey:InstructorExternalID;references:ExternalID;constraint:OnDelete:CASCADE"`
	Title                string         `gorm:"column:title;size:255;not null"`
	Slug                 string         `gorm:"column:slug;size:255;not null;uniqueIndex:idx_courses_slug"`
	Description          string         `gorm:"column:description;type:text;not null;default:''"`
	DetailDescription    string         `gorm:"column:detail_description;type:text;not null;default:''"`
	Categories           string         `gorm:"column:categories;size:512;not null;default:''"`
	CoverImageKey        *string        `gorm:"column:cover_image_key;size:512"`
	Price                string         `gorm:"column:price;size:32;not null;default:'0'"`
	Currency             string         `gorm:"column:currency;size:3;not null;default:'INR'"`
	Status               Status         `gorm:"column:status;size:16;not null;default:DRAFT;index:idx_courses_status"`
	CreatedAt            time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt            time.Time      `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Course) TableName() string {
	return "courses"
}

// CategoryList splits the stored categories back into their parts.
func (c Course) CategoryList() []string {
	return SplitCategories(c.Categories)
}

// CourseInput captures the instructor-supplied fields of a new course.
type CourseInput struct {
	Title             string
	Description       string
	DetailDescription string
	Categories        []string
	CoverImageKey     string
	Price             string
	Currency          string
	Status            string
}

// Listing is a published course joined with its instructor's display name.
type Listing struct {
	ID             string    `gorm:"column:id"`
	Title          string    `gorm:"column:title"`
	Slug           string    `gorm:"column:slug"`
	Description    string    `gorm:"column:description"`
	Categories     string    `gorm:"column:categories"`
	CoverImageKey  *string   `gorm:"column:cover_image_key"`
	Price          string    `gorm:"column:price"`
	Currency       string    `gorm:"column:currency"`
	InstructorName *string   `gorm:"column:instructor_name"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// Slugify lowercases the title and collapses every run of non-alphanumerics into a single dash.
func Slugify(title string) string {
	lowered := strings.ToLower(strings.TrimSpace(title))
	return strings.Trim(slugSeparators.ReplaceAllString(lowered, "-"), "-")
}

// JoinCategories trims each category, drops empties and joins the rest with commas.
func JoinCategories(categories []string) string {
	kept := make([]string, 0, len(categories))
	for _, category := range categories {
		if trimmed := strings.TrimSpace(category); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, ",")
}

// SplitCategories is the inverse of JoinCategories.
func SplitCategories(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return []string{}
	}
	parts := strings.Split(joined, ",")
	categories := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			categories = append(categories, trimmed)
		}
	}
	return categories
}

func normalizePrice(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return defaultPrice, nil
	}
	if !pricePattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: price %q", ErrInvalidCourse, rawInput)
	}
	return trimmed, nil
}

func normalizeCurrency(rawInput string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return defaultCurrency, nil
	}
	if !currencyCode.MatchString(trimmed) {
		return "", fmt.Errorf("%w: currency %q", ErrInvalidCourse, rawInput)
	}
	return trimmed, nil
}
