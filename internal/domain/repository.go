// Package domain defines the core types and collaborator interfaces
// for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Application operations
	SaveApplication(ctx context.Context, app *LoanApplication) error
	GetApplication(ctx context.Context, appID string) (*LoanApplication, error)

	// Rule version operations. InsertRuleVersion writes a brand-new
	// version record as given. CreateRuleVersion assigns the next
	// version number for the logical lineage and deactivates the
	// previously active version in the same transaction.
	InsertRuleVersion(ctx context.Context, v *RuleVersion) error
	CreateRuleVersion(ctx context.Context, v *RuleVersion) error
	GetRuleVersion(ctx context.Context, id string) (*RuleVersion, error)
	ListRuleVersions(ctx context.Context, logicalID string) ([]*RuleVersion, error)
	ListActiveRuleVersions(ctx context.Context) ([]*RuleVersion, error)
	ListAllRuleVersions(ctx context.Context) ([]*RuleVersion, error)

	// SetRuleActive flips the active flag on a single version.
	// Activating a version deactivates any sibling of the same
	// logical lineage in the same transaction.
	SetRuleActive(ctx context.Context, id string, active bool) error

	// Decision operations
	SaveDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, decisionID string) (*Decision, error)
	ListDecisionsByApplication(ctx context.Context, appID string) ([]*Decision, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
