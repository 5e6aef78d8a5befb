// Package media stores instructor uploads in object storage under per-owner key prefixes.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/MarcoPoloResearchLab/gurukul/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind separates the two supported media families.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "gurukul"

var (
	// ErrUnsupportedMedia indicates a content type or media kind outside image and video.
	ErrUnsupportedMedia = errors.New("media: unsupported media type")
	// ErrInvalidPublicID indicates a key that does not follow the owner layout.
	ErrInvalidPublicID = errors.New("media: invalid public id")
	// ErrNotOwner indicates that the caller does not own the referenced object.
	ErrNotOwner = errors.New("media: caller does not own object")
	// ErrMissingOwner indicates an upload or delete without a caller identity.
	ErrMissingOwner = errors.New("media: owner required")

	errMissingStore = errors.New("media: object store required")
)

// ParseKind validates a client-supplied media kind.
func ParseKind(rawInput string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(rawInput))) {
	case KindImage:
		return KindImage, nil
	case KindVideo:
		return KindVideo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, rawInput)
	}
}

// KindForContentType maps video/* to KindVideo and image/* to KindImage.
func KindForContentType(contentType string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(normalized, "video/"):
		return KindVideo, nil
	case strings.HasPrefix(normalized, "image/"):
		return KindImage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, contentType)
	}
}

func (k Kind) folder() string {
	if k == KindVideo {
		return "videos"
	}
	return "images"
}

// OwnerSegment returns the key segment holding an identity's objects: the full external id,
// path-escaped so that distinct ids never share a folder. Ids that cannot form a single
// segment yield "".
func OwnerSegment(externalID string) string {
	segment := url.PathEscape(strings.TrimSpace(externalID))
	if segment == "." || segment == ".." {
		return ""
	}
	return segment
}

// Asset describes an uploaded object.
type Asset struct {
	PublicID string
	Kind     Kind
	Size     int64
}

// ServiceConfig describes the dependencies of the media service.
type ServiceConfig struct {
	Store   ObjectStore
	Prefix  string
	NewKey  func() (string, error)
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Service uploads and deletes owner-scoped media objects.
type Service struct {
	store   ObjectStore
	prefix  string
	newKey  func() (string, error)
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	newKey := cfg.NewKey
	if newKey == nil {
		newKey = newObjectName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   cfg.Store,
		prefix:  normalizePrefix(cfg.Prefix),
		newKey:  newKey,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// OwnerPrefix returns the key prefix holding every object of the identity.
func (s *Service) OwnerPrefix(externalID string) string {
	return s.prefix + "/" + OwnerSegment(externalID) + "/"
}

// Upload stores body under a fresh key in the caller's folder for its media kind.
func (s *Service) Upload(ctx context.Context, ownerID string, contentType string, body io.Reader, size int64) (Asset, error) {
	owner := OwnerSegment(ownerID)
	if owner == "" {
		return Asset{}, ErrMissingOwner
	}
	kind, err := KindForContentType(contentType)
	if err != nil {
		return Asset{}, err
	}
	name, err := s.newKey()
	if err != nil {
		return Asset{}, fmt.Errorf("media: generate key: %w", err)
	}

	key := path.Join(s.prefix, owner, kind.folder(), name)
	err = s.store.Put(ctx, key, body, size, contentType)
	s.metrics.ObserveMedia("upload", err)
	if err != nil {
		s.logger.Error("media upload failed", zap.String("key", key), zap.Error(err))
		return Asset{}, err
	}

	s.logger.Info("media uploaded",
		zap.String("key", key),
		zap.String("kind", string(kind)),
		zap.Int64("size", size),
	)
	return Asset{PublicID: key, Kind: kind, Size: size}, nil
}

// Delete removes a previously uploaded object after confirming the caller owns it and that
// the kind matches the folder the key lives in.
func (s *Service) Delete(ctx context.Context, ownerID string, publicID string, kind Kind) error {
	owner := OwnerSegment(ownerID)
	if owner == "" {
		return ErrMissingOwner
	}
	keyOwner, keyKind, err := s.parsePublicID(publicID)
	if err != nil {
		return err
	}
	if keyOwner != owner {
		s.logger.Info("media delete rejected",
			zap.String("external_id", ownerID),
			zap.String("key", publicID),
		)
		return ErrNotOwner
	}
	if keyKind != kind {
		return fmt.Errorf("%w: key holds %s, not %s", ErrUnsupportedMedia, keyKind, kind)
	}

	err = s.store.Delete(ctx, publicID)
	s.metrics.ObserveMedia("delete", err)
	if err != nil {
		s.logger.Error("media delete failed", zap.String("key", publicID), zap.Error(err))
		return err
	}
	s.logger.Info("media deleted", zap.String("key", publicID))
	return nil
}

// parsePublicID splits <prefix>/<owner>/<folder>/<name> into owner and kind.
func (s *Service) parsePublicID(publicID string) (string, Kind, error) {
	trimmed := strings.TrimSpace(publicID)
	if trimmed == "" || path.Clean(trimmed) != trimmed {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPublicID, publicID)
	}
	relative, found := strings.CutPrefix(trimmed, s.prefix+"/")
	if !found {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPublicID, publicID)
	}
	segments := strings.Split(relative, "/")
	if len(segments) != 3 || segments[0] == "" || segments[2] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPublicID, publicID)
	}
	switch segments[1] {
	case KindImage.folder():
		return segments[0], KindImage, nil
	case KindVideo.folder():
		return segments[0], KindVideo, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPublicID, publicID)
	}
}

func normalizePrefix(prefix string) string {
	trimmed := strings.Trim(strings.TrimSpace(prefix), "/")
	if trimmed == "" {
		return DefaultPrefix
	}
	return path.Clean(trimmed)
}

func newObjectName() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
