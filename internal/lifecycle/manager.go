// Package lifecycle orchestrates rule create/version/activate
// operations against the rule repository, keeping the exactly-one-
// active-version invariant and the snapshot cache in sync.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// ErrInvalidDefinition marks a rule write rejected by compile-time
// validation. The accompanying ValidationReport carries the details.
var ErrInvalidDefinition = errors.New("invalid rule definition")

// snapshotTTL bounds how stale a cached active-rule set can get on
// nodes that missed an invalidation.
const snapshotTTL = 30 * time.Second

// Manager coordinates rule writes and active-snapshot reads.
// Writes are single-writer-per-logical-rule: the repository wraps the
// deactivate-old/insert-new pair in one transaction.
type Manager struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
}

// NewManager creates a lifecycle manager. Cache and bus are optional.
func NewManager(repo domain.Repository, cache domain.Cache, bus domain.EventBus) *Manager {
	return &Manager{repo: repo, cache: cache, bus: bus}
}

// CreateRule validates a definition and persists it as version 1 of a
// new logical rule lineage, active immediately. The returned report
// carries warnings even on success; on ErrInvalidDefinition it
// carries the full error list and nothing was written.
func (m *Manager) CreateRule(ctx context.Context, definition []byte, actor string) (*domain.RuleVersion, *engine.ValidationReport, error) {
	report := engine.ValidateDefinition(definition)
	if !report.Valid {
		return nil, report, ErrInvalidDefinition
	}

	def, _ := engine.ParseDefinition(definition)

	v := &domain.RuleVersion{
		ID:         uuid.New().String(),
		LogicalID:  uuid.New().String(),
		Version:    1,
		Name:       def.Name,
		Priority:   def.Priority,
		Definition: *def,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
		CreatedBy:  actor,
	}

	if err := m.repo.InsertRuleVersion(ctx, v); err != nil {
		return nil, report, err
	}

	m.ruleSetChanged(ctx, v)
	return v, report, nil
}

// CreateVersion validates a definition and appends it as the next
// version of an existing logical rule. The previous active version is
// deactivated in the same transaction; its record is never edited or
// deleted, so decisions that referenced it stay reproducible.
func (m *Manager) CreateVersion(ctx context.Context, logicalID string, definition []byte, changeReason, actor string) (*domain.RuleVersion, *engine.ValidationReport, error) {
	report := engine.ValidateDefinition(definition)
	if !report.Valid {
		return nil, report, ErrInvalidDefinition
	}

	def, _ := engine.ParseDefinition(definition)

	v := &domain.RuleVersion{
		ID:           uuid.New().String(),
		LogicalID:    logicalID,
		Name:         def.Name,
		Priority:     def.Priority,
		Definition:   *def,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
		CreatedBy:    actor,
		ChangeReason: changeReason,
	}

	// The repository assigns the next version number inside the
	// deactivate+insert transaction.
	if err := m.repo.CreateRuleVersion(ctx, v); err != nil {
		return nil, report, err
	}

	m.ruleSetChanged(ctx, v)
	return v, report, nil
}

// SetActive flips the active flag on one version. Activation
// deactivates any sibling version of the same logical rule inside the
// repository transaction, preserving the invariant.
func (m *Manager) SetActive(ctx context.Context, versionID string, active bool) error {
	if err := m.repo.SetRuleActive(ctx, versionID, active); err != nil {
		return err
	}
	m.ruleSetChanged(ctx, nil)
	return nil
}

// ActiveSnapshot reads the active rule versions (through the cache
// when available) and compiles them into an evaluation snapshot.
// An inconsistent store surfaces as *engine.ConfigurationError.
func (m *Manager) ActiveSnapshot(ctx context.Context) (*engine.Snapshot, error) {
	versions, err := m.activeVersions(ctx)
	if err != nil {
		return nil, err
	}
	return engine.CompileSnapshot(versions)
}

func (m *Manager) activeVersions(ctx context.Context) ([]*domain.RuleVersion, error) {
	if m.cache != nil {
		if data, err := m.cache.Get(ctx, domain.CacheKeyActiveRules); err == nil && data != nil {
			var versions []*domain.RuleVersion
			if err := json.Unmarshal(data, &versions); err == nil {
				return versions, nil
			}
			// Corrupt cache entry: fall through to the repository.
			_ = m.cache.Delete(ctx, domain.CacheKeyActiveRules)
		}
	}

	versions, err := m.repo.ListActiveRuleVersions(ctx)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		if data, err := json.Marshal(versions); err == nil {
			if err := m.cache.Set(ctx, domain.CacheKeyActiveRules, data, snapshotTTL); err != nil {
				slog.Warn("failed to cache active rules", "error", err)
			}
		}
	}

	return versions, nil
}

// ruleSetChanged invalidates the snapshot cache and announces the
// change so other nodes drop their local copies too.
func (m *Manager) ruleSetChanged(ctx context.Context, v *domain.RuleVersion) {
	if m.cache != nil {
		if err := m.cache.Delete(ctx, domain.CacheKeyActiveRules); err != nil {
			slog.Warn("failed to invalidate rule cache", "error", err)
		}
	}
	if m.bus != nil {
		payload := []byte(`{}`)
		if v != nil {
			payload, _ = json.Marshal(map[string]string{
				"versionId": v.ID,
				"logicalId": v.LogicalID,
			})
		}
		if err := m.bus.Publish(ctx, domain.TopicRulesChanged, payload); err != nil {
			slog.Warn("failed to publish rule change", "error", err)
		}
	}
}
