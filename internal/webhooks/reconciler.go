// Package webhooks applies identity provider lifecycle events to the local identity store.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/gurukul/internal/metrics"
	"github.com/MarcoPoloResearchLab/gurukul/internal/users"
	"go.uber.org/zap"
)

var (
	errMissingVerifier = errors.New("webhooks: signature verifier required")
	errMissingStore    = errors.New("webhooks: identity store required")
)

// FailureKind classifies why a delivery could not be applied.
type FailureKind string

const (
	FailureAuthentication   FailureKind = "authentication_failed"
	FailureMalformedPayload FailureKind = "malformed_payload"
	FailureStoreConflict    FailureKind = "store_conflict"
	FailureStoreNotFound    FailureKind = "store_not_found"
	FailureStore            FailureKind = "store_error"
)

// Failure is the single error type returned by Reconcile.
type Failure struct {
	Kind      FailureKind
	EventType string
	Err       error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf extracts the failure kind from err.
func KindOf(err error) (FailureKind, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind, true
	}
	return "", false
}

// Action names the store mutation performed for a delivery.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	ActionIgnored Action = "ignored"
)

// Outcome describes a successfully processed delivery.
type Outcome struct {
	EventType  string
	Action     Action
	ExternalID string
	// WasPresent is meaningful for deletions only.
	WasPresent bool
	Identity   *users.Identity
}

// Verifier authenticates a raw delivery.
type Verifier interface {
	Verify(payload []byte, headers http.Header) error
}

// IdentityStore is the subset of the identity store the reconciler mutates.
type IdentityStore interface {
	Insert(ctx context.Context, identity users.Identity) (users.Identity, error)
	UpdateByExternalID(ctx context.Context, externalID string, update users.IdentityUpdate) (users.Identity, error)
	DeleteByExternalID(ctx context.Context, externalID string) (bool, error)
}

// DeletionListener is told about identities that were removed. Implementations must not block.
type DeletionListener interface {
	IdentityDeleted(externalID string)
}

// ReconcilerConfig describes the dependencies of a Reconciler.
type ReconcilerConfig struct {
	Verifier Verifier
	Store    IdentityStore
	Listener DeletionListener
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Reconciler verifies deliveries and maps lifecycle events onto store mutations.
// It performs no retries; redelivery is left to the provider.
type Reconciler struct {
	verifier Verifier
	store    IdentityStore
	listener DeletionListener
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewReconciler constructs a Reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Verifier == nil {
		return nil, errMissingVerifier
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		verifier: cfg.Verifier,
		store:    cfg.Store,
		listener: cfg.Listener,
		logger:   logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Reconcile processes one delivery and returns exactly one terminal result: an Outcome, or a
// *Failure describing why nothing (or nothing further) was applied.
func (r *Reconciler) Reconcile(ctx context.Context, payload []byte, headers http.Header) (Outcome, error) {
	outcome, err := r.reconcile(ctx, payload, headers)
	if err != nil {
		kind, _ := KindOf(err)
		r.metrics.ObserveWebhook(eventTypeOf(err), string(kind))
		r.logFailure(err)
		return Outcome{}, err
	}
	r.metrics.ObserveWebhook(outcome.EventType, string(outcome.Action))
	r.logger.Info("identity webhook processed",
		zap.String("event_type", outcome.EventType),
		zap.String("action", string(outcome.Action)),
		zap.String("external_id", outcome.ExternalID),
		zap.Bool("was_present", outcome.WasPresent),
	)
	return outcome, nil
}

func (r *Reconciler) reconcile(ctx context.Context, payload []byte, headers http.Header) (Outcome, error) {
	if err := r.verifier.Verify(payload, headers); err != nil {
		return Outcome{}, &Failure{Kind: FailureAuthentication, Err: err}
	}

	envelope, err := decodeEnvelope(payload)
	if err != nil {
		return Outcome{}, &Failure{Kind: FailureMalformedPayload, Err: err}
	}

	switch envelope.Type {
	case EventUserCreated:
		return r.applyCreated(ctx, envelope)
	case EventUserUpdated:
		return r.applyUpdated(ctx, envelope)
	case EventUserDeleted:
		return r.applyDeleted(ctx, envelope)
	default:
		return Outcome{EventType: envelope.Type, Action: ActionIgnored}, nil
	}
}

func (r *Reconciler) applyCreated(ctx context.Context, envelope Envelope) (Outcome, error) {
	fields, err := envelope.Data.profile()
	if err != nil {
		return Outcome{}, &Failure{Kind: FailureMalformedPayload, EventType: envelope.Type, Err: err}
	}

	identity, err := r.store.Insert(ctx, users.Identity{
		ExternalID:  fields.ExternalID,
		Email:       fields.Email,
		DisplayName: fields.DisplayName,
		Role:        users.RoleStudent,
	})
	if err != nil {
		return Outcome{}, classifyStoreError(envelope.Type, err)
	}
	return Outcome{
		EventType:  envelope.Type,
		Action:     ActionCreated,
		ExternalID: identity.ExternalID,
		Identity:   &identity,
	}, nil
}

func (r *Reconciler) applyUpdated(ctx context.Context, envelope Envelope) (Outcome, error) {
	fields, err := envelope.Data.profile()
	if err != nil {
		return Outcome{}, &Failure{Kind: FailureMalformedPayload, EventType: envelope.Type, Err: err}
	}

	identity, err := r.store.UpdateByExternalID(ctx, fields.ExternalID, users.IdentityUpdate{
		Email:       fields.Email,
		DisplayName: fields.DisplayName,
	})
	if err != nil {
		return Outcome{}, classifyStoreError(envelope.Type, err)
	}
	return Outcome{
		EventType:  envelope.Type,
		Action:     ActionUpdated,
		ExternalID: identity.ExternalID,
		Identity:   &identity,
	}, nil
}

func (r *Reconciler) applyDeleted(ctx context.Context, envelope Envelope) (Outcome, error) {
	externalID, err := envelope.Data.externalID()
	if err != nil {
		return Outcome{}, &Failure{Kind: FailureMalformedPayload, EventType: envelope.Type, Err: err}
	}

	wasPresent, err := r.store.DeleteByExternalID(ctx, externalID)
	if err != nil {
		return Outcome{}, classifyStoreError(envelope.Type, err)
	}
	if wasPresent && r.listener != nil {
		r.listener.IdentityDeleted(externalID)
	}
	return Outcome{
		EventType:  envelope.Type,
		Action:     ActionDeleted,
		ExternalID: externalID,
		WasPresent: wasPresent,
	}, nil
}

func classifyStoreError(eventType string, err error) error {
	kind := FailureStore
	switch {
	case errors.Is(err, users.ErrStoreConflict):
		kind = FailureStoreConflict
	case errors.Is(err, users.ErrStoreNotFound):
		kind = FailureStoreNotFound
	case errors.Is(err, users.ErrInvalidExternalID), errors.Is(err, users.ErrInvalidEmail), errors.Is(err, users.ErrIncompleteIdentity):
		kind = FailureMalformedPayload
	}
	return &Failure{Kind: kind, EventType: eventType, Err: err}
}

func eventTypeOf(err error) string {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.EventType
	}
	return ""
}

func (r *Reconciler) logFailure(err error) {
	var failure *Failure
	if !errors.As(err, &failure) {
		r.logger.Error("identity webhook failed", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.String("event_type", failure.EventType),
		zap.String("failure", string(failure.Kind)),
		zap.Error(failure.Err),
	}
	switch failure.Kind {
	case FailureStoreConflict:
		r.logger.Info("identity webhook duplicate delivery", fields...)
	case FailureStoreNotFound:
		r.logger.Warn("identity webhook target missing", fields...)
	case FailureAuthentication, FailureMalformedPayload:
		r.logger.Warn("identity webhook rejected", fields...)
	default:
		r.logger.Error("identity webhook failed", fields...)
	}
}
