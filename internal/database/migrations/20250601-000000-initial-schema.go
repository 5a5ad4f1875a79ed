package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250601-000000",
		Description: "Initial schema: webhook definitions, webhook logs, schema catalog, clinic target tables",
		Up: []string{
			// Webhook definitions - one row per configured endpoint.
			// Slug uniqueness is enforced here, not by the advisory
			// pre-check in the registry service.
			`CREATE TABLE IF NOT EXISTS webhook_definitions (
				id TEXT PRIMARY KEY,
				slug TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				description TEXT,
				direction TEXT NOT NULL DEFAULT 'incoming',
				allowed_methods TEXT NOT NULL DEFAULT '["POST"]',
				auth_type TEXT NOT NULL DEFAULT 'none',
				token_encrypted TEXT,
				secret_key_encrypted TEXT,
				api_key_header TEXT,
				api_key_encrypted TEXT,
				ip_allowlist TEXT,
				rate_limit_per_minute INTEGER NOT NULL DEFAULT 60,
				custom_headers_json TEXT,
				target_url TEXT,
				trigger_events TEXT,
				expected_schema_json TEXT,
				data_mapping_json TEXT NOT NULL DEFAULT '{}',
				response_config_json TEXT NOT NULL DEFAULT '{}',
				is_active INTEGER NOT NULL DEFAULT 1,
				total_calls INTEGER NOT NULL DEFAULT 0,
				successful_calls INTEGER NOT NULL DEFAULT 0,
				last_triggered TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_definitions_slug ON webhook_definitions(slug)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_definitions_active ON webhook_definitions(is_active)`,

			// Webhook logs - append-only, one row per exchange.
			// No foreign key: logs outlive their definition until the
			// retention sweep removes them.
			`CREATE TABLE IF NOT EXISTS webhook_logs (
				id TEXT PRIMARY KEY,
				webhook_id TEXT NOT NULL,
				timestamp TEXT NOT NULL,
				method TEXT NOT NULL,
				source_ip TEXT,
				user_agent TEXT,
				headers_json TEXT,
				body TEXT,
				status_code INTEGER NOT NULL DEFAULT 0,
				response_body TEXT,
				response_time_ms INTEGER NOT NULL DEFAULT 0,
				was_processed INTEGER NOT NULL DEFAULT 0,
				validation_errors_json TEXT,
				processing_errors_json TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_logs_webhook_time ON webhook_logs(webhook_id, timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_logs_processed ON webhook_logs(webhook_id, was_processed)`,

			// Schema catalog - the persistence models webhook mappings may
			// target. Fields are a JSON array of {name, type, optional, auto}.
			`CREATE TABLE IF NOT EXISTS schema_catalog (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				display_name TEXT,
				fields_json TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,

			// Clinic target tables reachable through the generic record
			// repository. Columns mirror the catalog entries seeded below.
			`CREATE TABLE IF NOT EXISTS device_readings (
				id TEXT PRIMARY KEY,
				clinic_id TEXT,
				device_id TEXT,
				energy REAL,
				power REAL,
				voltage REAL,
				status TEXT,
				event_type TEXT,
				recorded_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_device_readings_device ON device_readings(device_id)`,

			`CREATE TABLE IF NOT EXISTS appointments (
				id TEXT PRIMARY KEY,
				clinic_id TEXT,
				person_id TEXT,
				cabin_id TEXT,
				starts_at TEXT,
				ends_at TEXT,
				status TEXT,
				notes TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_appointments_person ON appointments(person_id)`,

			`CREATE TABLE IF NOT EXISTS persons (
				id TEXT PRIMARY KEY,
				clinic_id TEXT,
				first_name TEXT,
				last_name TEXT,
				email TEXT,
				phone TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
	})
}
