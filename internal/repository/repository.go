// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveApplication stores a loan application snapshot.
func (r *SQLRepository) SaveApplication(ctx context.Context, app *domain.LoanApplication) error {
	if app.ID == "" {
		return fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO applications (
			id, amount, term_months, product_type, credit_score,
			income_monthly, debt_to_income, existing_loans, prior_defaults,
			has_collateral, applicant_age, employment_type, residency_status,
			affiliate_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	collateral := 0
	if app.HasCollateral {
		collateral = 1
	}

	var creditScore sql.NullInt64
	if app.CreditScore != nil {
		creditScore = sql.NullInt64{Int64: *app.CreditScore, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		app.ID, app.Amount, app.TermMonths, app.ProductType, creditScore,
		app.IncomeMonthly, app.DebtToIncome, app.ExistingLoans, app.PriorDefaults,
		collateral, app.ApplicantAge, app.EmploymentType, app.ResidencyStatus,
		app.AffiliateID, app.CreatedAt,
	)
	return err
}

// GetApplication retrieves a loan application by ID.
func (r *SQLRepository) GetApplication(ctx context.Context, appID string) (*domain.LoanApplication, error) {
	query := `
		SELECT id, amount, term_months, product_type, credit_score,
			   income_monthly, debt_to_income, existing_loans, prior_defaults,
			   has_collateral, applicant_age, employment_type, residency_status,
			   affiliate_id, created_at
		FROM applications
		WHERE id = ?
	`

	var app domain.LoanApplication
	var creditScore sql.NullInt64
	var collateral int
	var affiliate sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), appID).Scan(
		&app.ID, &app.Amount, &app.TermMonths, &app.ProductType, &creditScore,
		&app.IncomeMonthly, &app.DebtToIncome, &app.ExistingLoans, &app.PriorDefaults,
		&collateral, &app.ApplicantAge, &app.EmploymentType, &app.ResidencyStatus,
		&affiliate, &app.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if creditScore.Valid {
		v := creditScore.Int64
		app.CreditScore = &v
	}
	app.HasCollateral = collateral == 1
	app.AffiliateID = affiliate.String

	return &app, nil
}

// InsertRuleVersion stores a new rule version as given. Used for the
// first version of a logical lineage; the version swap for subsequent
// versions goes through CreateRuleVersion.
func (r *SQLRepository) InsertRuleVersion(ctx context.Context, v *domain.RuleVersion) error {
	if v.ID == "" || v.LogicalID == "" {
		return fmt.Errorf("%w: version id and logical id are required", ErrInvalidInput)
	}

	return r.insertVersion(ctx, r.db, v)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLRepository) insertVersion(ctx context.Context, db execer, v *domain.RuleVersion) error {
	definition, err := json.Marshal(v.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}

	active := 0
	if v.Active {
		active = 1
	}

	query := `
		INSERT INTO rule_versions (
			id, logical_id, version, name, priority, definition,
			active, created_at, created_by, change_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.ExecContext(ctx, r.rebind(query),
		v.ID, v.LogicalID, v.Version, v.Name, v.Priority, string(definition),
		active, v.CreatedAt, v.CreatedBy, v.ChangeReason,
	)
	return err
}

// CreateRuleVersion appends the next version of an existing logical
// rule. The version number assignment, the deactivation of the
// previously active version, and the insert happen in one
// transaction, so two concurrent edits cannot both become "the" new
// active version.
func (r *SQLRepository) CreateRuleVersion(ctx context.Context, v *domain.RuleVersion) error {
	if v.LogicalID == "" {
		return fmt.Errorf("%w: logical id is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		r.rebind(`SELECT MAX(version) FROM rule_versions WHERE logical_id = ?`),
		v.LogicalID,
	).Scan(&maxVersion)
	if err != nil {
		return err
	}
	if !maxVersion.Valid {
		return fmt.Errorf("%w: logical rule %s", ErrNotFound, v.LogicalID)
	}
	v.Version = int(maxVersion.Int64) + 1

	if v.Active {
		_, err = tx.ExecContext(ctx,
			r.rebind(`UPDATE rule_versions SET active = 0 WHERE logical_id = ? AND active = 1`),
			v.LogicalID,
		)
		if err != nil {
			return err
		}
	}

	if err := r.insertVersion(ctx, tx, v); err != nil {
		return err
	}

	return tx.Commit()
}

// SetRuleActive flips the active flag on one version. Activating a
// version deactivates any active sibling of the same logical rule in
// the same transaction.
func (r *SQLRepository) SetRuleActive(ctx context.Context, id string, active bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var logicalID string
	err = tx.QueryRowContext(ctx,
		r.rebind(`SELECT logical_id FROM rule_versions WHERE id = ?`), id,
	).Scan(&logicalID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if active {
		_, err = tx.ExecContext(ctx,
			r.rebind(`UPDATE rule_versions SET active = 0 WHERE logical_id = ? AND active = 1 AND id != ?`),
			logicalID, id,
		)
		if err != nil {
			return err
		}
	}

	flag := 0
	if active {
		flag = 1
	}
	_, err = tx.ExecContext(ctx,
		r.rebind(`UPDATE rule_versions SET active = ? WHERE id = ?`), flag, id,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

const ruleVersionColumns = `id, logical_id, version, name, priority, definition,
	   active, created_at, created_by, change_reason`

// GetRuleVersion retrieves a single rule version by ID.
func (r *SQLRepository) GetRuleVersion(ctx context.Context, id string) (*domain.RuleVersion, error) {
	query := `SELECT ` + ruleVersionColumns + ` FROM rule_versions WHERE id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), id)
	v, err := scanRuleVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// ListRuleVersions retrieves every version of a logical rule, oldest
// first.
func (r *SQLRepository) ListRuleVersions(ctx context.Context, logicalID string) ([]*domain.RuleVersion, error) {
	query := `SELECT ` + ruleVersionColumns + `
		FROM rule_versions
		WHERE logical_id = ?
		ORDER BY version`

	return r.queryRuleVersions(ctx, query, logicalID)
}

// ListActiveRuleVersions retrieves the active rule set in evaluation
// order: ascending priority, ties broken by creation order.
func (r *SQLRepository) ListActiveRuleVersions(ctx context.Context) ([]*domain.RuleVersion, error) {
	query := `SELECT ` + ruleVersionColumns + `
		FROM rule_versions
		WHERE active = 1
		ORDER BY priority, created_at, id`

	return r.queryRuleVersions(ctx, query)
}

// ListAllRuleVersions retrieves every stored rule version.
func (r *SQLRepository) ListAllRuleVersions(ctx context.Context) ([]*domain.RuleVersion, error) {
	query := `SELECT ` + ruleVersionColumns + `
		FROM rule_versions
		ORDER BY logical_id, version`

	return r.queryRuleVersions(ctx, query)
}

func (r *SQLRepository) queryRuleVersions(ctx context.Context, query string, args ...any) ([]*domain.RuleVersion, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*domain.RuleVersion
	for rows.Next() {
		v, err := scanRuleVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleVersion(row rowScanner) (*domain.RuleVersion, error) {
	var v domain.RuleVersion
	var definition string
	var active int
	var changeReason sql.NullString

	err := row.Scan(
		&v.ID, &v.LogicalID, &v.Version, &v.Name, &v.Priority, &definition,
		&active, &v.CreatedAt, &v.CreatedBy, &changeReason,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(definition), &v.Definition); err != nil {
		return nil, fmt.Errorf("failed to parse definition for rule version %s: %w", v.ID, err)
	}
	v.Active = active == 1
	v.ChangeReason = changeReason.String

	return &v, nil
}

// SaveDecision stores a decision record.
func (r *SQLRepository) SaveDecision(ctx context.Context, d *domain.Decision) error {
	if d.ID == "" || d.ApplicationID == "" {
		return fmt.Errorf("%w: decision id and application id are required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(d.Reasons)
	matched, _ := json.Marshal(d.MatchedRuleIDs)
	ruleSet, _ := json.Marshal(d.RuleSetVersionIDs)

	query := `
		INSERT INTO decisions (
			id, application_id, outcome, score, reasons,
			matched_rule_ids, rule_set_version_ids, created_at, trace_id, process_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, d.ApplicationID, string(d.Outcome), d.Score, string(reasons),
		string(matched), string(ruleSet), d.CreatedAt, d.TraceID, d.ProcessMs,
	)
	return err
}

// GetDecision retrieves a decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, decisionID string) (*domain.Decision, error) {
	query := `
		SELECT id, application_id, outcome, score, reasons,
			   matched_rule_ids, rule_set_version_ids, created_at, trace_id, process_ms
		FROM decisions
		WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), decisionID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ListDecisionsByApplication retrieves every decision recorded for an
// application, newest first.
func (r *SQLRepository) ListDecisionsByApplication(ctx context.Context, appID string) ([]*domain.Decision, error) {
	query := `
		SELECT id, application_id, outcome, score, reasons,
			   matched_rule_ids, rule_set_version_ids, created_at, trace_id, process_ms
		FROM decisions
		WHERE application_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func scanDecision(row rowScanner) (*domain.Decision, error) {
	var d domain.Decision
	var outcome, reasons, matched, ruleSet string
	var traceID sql.NullString
	var processMs sql.NullInt64

	err := row.Scan(
		&d.ID, &d.ApplicationID, &outcome, &d.Score, &reasons,
		&matched, &ruleSet, &d.CreatedAt, &traceID, &processMs,
	)
	if err != nil {
		return nil, err
	}

	d.Outcome = domain.Outcome(outcome)
	json.Unmarshal([]byte(reasons), &d.Reasons)
	json.Unmarshal([]byte(matched), &d.MatchedRuleIDs)
	json.Unmarshal([]byte(ruleSet), &d.RuleSetVersionIDs)
	d.TraceID = traceID.String
	if processMs.Valid {
		d.ProcessMs = processMs.Int64
	}

	return &d, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
