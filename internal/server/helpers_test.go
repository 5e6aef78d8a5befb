package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gurukul/internal/access"
	"github.com/MarcoPoloResearchLab/gurukul/internal/auth"
	"github.com/MarcoPoloResearchLab/gurukul/internal/courses"
	"github.com/MarcoPoloResearchLab/gurukul/internal/media"
	"github.com/MarcoPoloResearchLab/gurukul/internal/metrics"
	"github.com/MarcoPoloResearchLab/gurukul/internal/users"
	"github.com/MarcoPoloResearchLab/gurukul/internal/webhooks"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var testWebhookSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("server-test-signing-key"))

// stubCallers treats the bearer token as the caller's external id.
type stubCallers struct{}

func (stubCallers) ResolveCaller(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	switch {
	case token == "":
		return "", auth.ErrMissingSessionToken
	case token == "expired":
		return "", auth.ErrExpiredSessionToken
	case token == "forged":
		return "", auth.ErrInvalidSessionToken
	default:
		return token, nil
	}
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memoryObjects) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = contentType + ":" + string(data)
	return nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryObjects) DeleteWithPrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memoryObjects) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.objects[key]
	return value, ok
}

func (m *memoryObjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type serverFixture struct {
	db         *gorm.DB
	identities *users.Store
	verifier   *webhooks.SignatureVerifier
	objects    *memoryObjects
	metrics    *metrics.Metrics
	logs       *observer.ObservedLogs
	handler    http.Handler
}

func newServerFixture(t *testing.T) serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	databaseName := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+databaseName+"?mode=memory&cache=shared&_pragma=foreign_keys(1)"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.Identity{}, &courses.Course{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	appMetrics := metrics.New()

	identities, err := users.NewStore(users.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create identity store: %v", err)
	}
	verifier, err := webhooks.NewSignatureVerifier(webhooks.SignatureVerifierConfig{SigningSecret: testWebhookSecret})
	if err != nil {
		t.Fatalf("failed to create verifier: %v", err)
	}
	reconciler, err := webhooks.NewReconciler(webhooks.ReconcilerConfig{
		Verifier: verifier,
		Store:    identities,
		Logger:   logger,
		Metrics:  appMetrics,
	})
	if err != nil {
		t.Fatalf("failed to create reconciler: %v", err)
	}
	courseService, err := courses.NewService(courses.ServiceConfig{
		Database:   db,
		IDProvider: courses.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to create course service: %v", err)
	}
	objects := &memoryObjects{objects: make(map[string]string)}
	mediaService, err := media.NewService(media.ServiceConfig{Store: objects, Prefix: "gurukul", Logger: logger})
	if err != nil {
		t.Fatalf("failed to create media service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Reconciler:     reconciler,
		Identities:     identities,
		Gate:           access.NewGate(access.GateConfig{Identities: identities, Logger: logger, Metrics: appMetrics}),
		Callers:        stubCallers{},
		Courses:        courseService,
		Media:          mediaService,
		Metrics:        appMetrics,
		AllowedOrigins: []string{"https://app.gurukul.test"},
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return serverFixture{
		db:         db,
		identities: identities,
		verifier:   verifier,
		objects:    objects,
		metrics:    appMetrics,
		logs:       logs,
		handler:    handler,
	}
}

func (f serverFixture) seedIdentity(t *testing.T, externalID string, role users.Role) {
	t.Helper()
	if _, err := f.identities.Insert(context.Background(), users.Identity{
		ExternalID:  externalID,
		Email:       externalID + "@x.com",
		DisplayName: users.ComposeDisplayName("Test", externalID),
		Role:        role,
	}); err != nil {
		t.Fatalf("failed to seed identity %s: %v", externalID, err)
	}
}

func (f serverFixture) serve(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f serverFixture) signedWebhook(t *testing.T, messageID string, event any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to encode event: %v", err)
	}
	now := time.Now()
	request := httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(webhooks.HeaderMessageID, messageID)
	request.Header.Set(webhooks.HeaderMessageTimestamp, strconv.FormatInt(now.Unix(), 10))
	request.Header.Set(webhooks.HeaderMessageSignature, f.verifier.Sign(messageID, now, payload))
	return request
}

func jsonRequest(t *testing.T, method, path, caller string, body any) *http.Request {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if caller != "" {
		request.Header.Set("Authorization", "Bearer "+caller)
	}
	return request
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func userEvent(eventType, externalID, email, firstName, lastName string) map[string]any {
	return map[string]any{
		"type": eventType,
		"data": map[string]any{
			"id":                       externalID,
			"primary_email_address_id": "e1",
			"email_addresses": []any{
				map[string]any{"id": "e1", "email_address": email},
			},
			"first_name": firstName,
			"last_name":  lastName,
		},
	}
}

// failingFinder fails every lookup.
type failingFinder struct{}

func (failingFinder) FindByExternalID(context.Context, string) (users.Identity, error) {
	return users.Identity{}, errors.New("database unavailable")
}
