// Package access decides whether a caller may perform a role-gated action.
package access

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/gurukul/internal/metrics"
	"github.com/MarcoPoloResearchLab/gurukul/internal/users"
	"go.uber.org/zap"
)

// IdentityFinder loads identity records by external id.
type IdentityFinder interface {
	FindByExternalID(ctx context.Context, externalID string) (users.Identity, error)
}

// RoleSet is the set of roles allowed to perform an action.
type RoleSet struct {
	roles map[users.Role]struct{}
}

// Require builds a RoleSet. A set built from no roles admits nobody.
func Require(roles ...users.Role) RoleSet {
	set := RoleSet{roles: make(map[users.Role]struct{}, len(roles))}
	for _, role := range roles {
		set.roles[role] = struct{}{}
	}
	return set
}

// Contains reports membership of role in the set.
func (s RoleSet) Contains(role users.Role) bool {
	_, ok := s.roles[role]
	return ok
}

// Empty reports whether the set admits no role.
func (s RoleSet) Empty() bool {
	return len(s.roles) == 0
}

func (s RoleSet) String() string {
	names := make([]string, 0, len(s.roles))
	for _, role := range users.AllRoles() {
		if s.Contains(role) {
			names = append(names, role.String())
		}
	}
	return strings.Join(names, ",")
}

// GateConfig describes the dependencies of a Gate.
type GateConfig struct {
	Identities IdentityFinder
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Gate answers allow/deny for a caller against a required role set. Every failure path,
// including store errors, collapses into deny.
type Gate struct {
	identities IdentityFinder
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewGate constructs a Gate.
func NewGate(cfg GateConfig) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		identities: cfg.Identities,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

// Allow reads the caller's current role from the store and checks it against required.
// There is no caching: a role change is visible to the next call.
func (g *Gate) Allow(ctx context.Context, externalID string, required RoleSet) bool {
	if g == nil {
		return false
	}
	allowed := g.decide(ctx, externalID, required)
	g.metrics.ObserveDecision(allowed)
	return allowed
}

func (g *Gate) decide(ctx context.Context, externalID string, required RoleSet) bool {
	if g.identities == nil || required.Empty() {
		return false
	}
	callerID := strings.TrimSpace(externalID)
	if callerID == "" {
		return false
	}

	identity, err := g.identities.FindByExternalID(ctx, callerID)
	if err != nil {
		g.logger.Info("authorization lookup failed",
			zap.String("external_id", callerID),
			zap.Error(err),
		)
		return false
	}

	if !required.Contains(identity.Role) {
		g.logger.Debug("authorization denied",
			zap.String("external_id", callerID),
			zap.String("role", identity.Role.String()),
			zap.String("required", required.String()),
		)
		return false
	}
	return true
}
