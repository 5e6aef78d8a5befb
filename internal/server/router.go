package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gurukul/internal/access"
	"github.com/MarcoPoloResearchLab/gurukul/internal/auth"
	"github.com/MarcoPoloResearchLab/gurukul/internal/courses"
	"github.com/MarcoPoloResearchLab/gurukul/internal/media"
	"github.com/MarcoPoloResearchLab/gurukul/internal/metrics"
	"github.com/MarcoPoloResearchLab/gurukul/internal/users"
	"github.com/MarcoPoloResearchLab/gurukul/internal/webhooks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	callerIDContextKey = "gurukul_caller_id"

	defaultMaxUploadBytes  int64 = 200 << 20
	maxWebhookPayloadBytes int64 = 1 << 20
)

var (
	errMissingReconciler = errors.New("webhook reconciler dependency required")
	errMissingIdentities = errors.New("identity finder dependency required")
	errMissingGate       = errors.New("authorization gate dependency required")
	errMissingCallers    = errors.New("caller resolver dependency required")
	errMissingCourses    = errors.New("course service dependency required")
)

// WebhookReconciler applies a signed identity provider delivery.
type WebhookReconciler interface {
	Reconcile(ctx context.Context, payload []byte, headers http.Header) (webhooks.Outcome, error)
}

// Authorizer decides whether a caller holds one of the required roles.
type Authorizer interface {
	Allow(ctx context.Context, externalID string, required access.RoleSet) bool
}

// CourseService creates and lists courses.
type CourseService interface {
	Create(ctx context.Context, instructorID string, input courses.CourseInput) (courses.Course, error)
	ListPublished(ctx context.Context) ([]courses.Listing, error)
}

// MediaService uploads and deletes owner-scoped media.
type MediaService interface {
	Upload(ctx context.Context, ownerID string, contentType string, body io.Reader, size int64) (media.Asset, error)
	Delete(ctx context.Context, ownerID string, publicID string, kind media.Kind) error
}

// Dependencies wires the HTTP surface. Media and Metrics are optional.
type Dependencies struct {
	Reconciler     WebhookReconciler
	Identities     access.IdentityFinder
	Gate           Authorizer
	Callers        auth.CallerResolver
	Courses        CourseService
	Media          MediaService
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// instructorRoles may author courses and manage media.
var instructorRoles = access.Require(users.RoleInstructor, users.RoleAdmin)

// NewHTTPHandler builds the gin engine serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Reconciler == nil {
		return nil, errMissingReconciler
	}
	if deps.Identities == nil {
		return nil, errMissingIdentities
	}
	if deps.Gate == nil {
		return nil, errMissingGate
	}
	if deps.Callers == nil {
		return nil, errMissingCallers
	}
	if deps.Courses == nil {
		return nil, errMissingCourses
	}
	if err := validateOrigins(deps.AllowedOrigins); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUploadBytes := deps.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		reconciler:     deps.Reconciler,
		identities:     deps.Identities,
		gate:           deps.Gate,
		callers:        deps.Callers,
		courses:        deps.Courses,
		media:          deps.Media,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := router.Group("/api")
	api.POST("/webhooks/identity", handler.handleIdentityWebhook)
	api.GET("/courses", handler.handleListCourses)

	sessions := api.Group("/")
	sessions.Use(handler.resolveCaller)
	sessions.GET("/user/role", handler.handleUserRole)

	instructors := sessions.Group("/")
	instructors.Use(handler.requireRoles(instructorRoles))
	instructors.POST("/courses", handler.handleCreateCourse)
	if deps.Media != nil {
		instructors.POST("/media", handler.handleMediaUpload)
		instructors.POST("/media/delete", handler.handleMediaDelete)
	}

	return router, nil
}

type httpHandler struct {
	reconciler     WebhookReconciler
	identities     access.IdentityFinder
	gate           Authorizer
	callers        auth.CallerResolver
	courses        CourseService
	media          MediaService
	maxUploadBytes int64
	logger         *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// resolveCaller records the session's external id when one is present. It never rejects;
// protected routes rely on requireRoles to deny anonymous callers.
func (h *httpHandler) resolveCaller(c *gin.Context) {
	externalID, err := h.callers.ResolveCaller(c.Request)
	switch {
	case err == nil:
		c.Set(callerIDContextKey, externalID)
	case errors.Is(err, auth.ErrMissingSessionToken):
	case errors.Is(err, auth.ErrExpiredSessionToken):
		h.logger.Info("session validation failed", zap.Error(err))
	default:
		h.logger.Warn("session validation failed", zap.Error(err))
	}
	c.Next()
}

func (h *httpHandler) requireRoles(required access.RoleSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.gate.Allow(c.Request.Context(), c.GetString(callerIDContextKey), required) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (h *httpHandler) handleUserRole(c *gin.Context) {
	callerID := c.GetString(callerIDContextKey)
	if callerID == "" {
		c.JSON(http.StatusOK, gin.H{"role": nil})
		return
	}
	identity, err := h.identities.FindByExternalID(c.Request.Context(), callerID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"role": identity.Role})
	case errors.Is(err, users.ErrStoreNotFound):
		c.JSON(http.StatusOK, gin.H{"role": nil})
	default:
		h.logger.Error("role lookup failed", zap.String("external_id", callerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "role_lookup_failed"})
	}
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOrigins = nil
		config.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(config)
}

func validateOrigins(origins []string) error {
	for _, origin := range origins {
		if origin == "*" {
			return fmt.Errorf("cors origin %q cannot be combined with credentialed sessions", origin)
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("cors origin %q must start with http:// or https://", origin)
		}
	}
	return nil
}
