package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    location TEXT NOT NULL,
    card_type TEXT,
    status TEXT,
    category TEXT,
    auth_method TEXT,
    previous_tx_count INTEGER NOT NULL DEFAULT 0,
    distance_km REAL NOT NULL DEFAULT 0,
    minutes_since_last REAL NOT NULL DEFAULT 0,
    velocity REAL NOT NULL DEFAULT 0,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(tenant_id, account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(tenant_id, timestamp);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    label TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 0.1,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

const schemaVerdicts = `
CREATE TABLE IF NOT EXISTS verdicts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    is_fraud INTEGER NOT NULL,
    ml_score REAL NOT NULL,
    rule_score REAL NOT NULL,
    anomaly_score REAL NOT NULL,
    combined_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    recommendation TEXT NOT NULL,
    triggered_rules TEXT NOT NULL,
    degraded INTEGER NOT NULL DEFAULT 0,
    degraded_reason TEXT,
    timestamp TIMESTAMP NOT NULL,
    processing_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verdicts_tenant ON verdicts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_tx ON verdicts(tenant_id, tx_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_level ON verdicts(tenant_id, risk_level);
CREATE INDEX IF NOT EXISTS idx_verdicts_timestamp ON verdicts(tenant_id, timestamp);
`

const schemaBaselines = `
CREATE TABLE IF NOT EXISTS baselines (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    fields TEXT NOT NULL,
    encodings TEXT NOT NULL,
    sample_count INTEGER NOT NULL,
    trained_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_baselines_tenant ON baselines(tenant_id, trained_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRuleConfigs,
		schemaVerdicts,
		schemaBaselines,
	}
}
