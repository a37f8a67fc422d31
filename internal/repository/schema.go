package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaApplications = `
CREATE TABLE IF NOT EXISTS applications (
    id TEXT PRIMARY KEY,
    amount BIGINT NOT NULL,
    term_months BIGINT NOT NULL,
    product_type TEXT NOT NULL,
    credit_score BIGINT,
    income_monthly BIGINT NOT NULL,
    debt_to_income BIGINT NOT NULL,
    existing_loans BIGINT NOT NULL,
    prior_defaults BIGINT NOT NULL,
    has_collateral INTEGER NOT NULL DEFAULT 0,
    applicant_age BIGINT NOT NULL,
    employment_type TEXT NOT NULL,
    residency_status TEXT NOT NULL,
    affiliate_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_affiliate ON applications(affiliate_id);
CREATE INDEX IF NOT EXISTS idx_applications_created ON applications(created_at);
`

// rule_versions is append-only: a version row is never updated after
// activation except for its active flag. The partial unique index
// enforces at most one active version per logical rule at the
// storage level, backing the transactional swap in CreateRuleVersion.
const schemaRuleVersions = `
CREATE TABLE IF NOT EXISTS rule_versions (
    id TEXT PRIMARY KEY,
    logical_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    name TEXT NOT NULL,
    priority INTEGER NOT NULL,
    definition TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    created_by TEXT NOT NULL,
    change_reason TEXT,
    UNIQUE (logical_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_versions_logical ON rule_versions(logical_id);
CREATE INDEX IF NOT EXISTS idx_rule_versions_active ON rule_versions(active);
CREATE UNIQUE INDEX IF NOT EXISTS idx_rule_versions_one_active
    ON rule_versions(logical_id) WHERE active = 1;
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    application_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    score BIGINT NOT NULL,
    reasons TEXT NOT NULL,
    matched_rule_ids TEXT NOT NULL,
    rule_set_version_ids TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    trace_id TEXT,
    process_ms BIGINT
);

CREATE INDEX IF NOT EXISTS idx_decisions_application ON decisions(application_id);
CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions(outcome);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaApplications,
		schemaRuleVersions,
		schemaDecisions,
	}
}
