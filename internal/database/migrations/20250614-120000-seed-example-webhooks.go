package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250614-120000",
		Description: "Seed example device webhooks",
		Up: []string{
			// Generic open receiver used for onboarding and the curl
			// tester. No secrets, so it can be seeded statically.
			`INSERT OR IGNORE INTO webhook_definitions (
				id, slug, name, description, direction, allowed_methods,
				auth_type, rate_limit_per_minute, data_mapping_json,
				response_config_json, is_active, created_at, updated_at
			) VALUES (
				'01JWR6140000000000GENRCV00',
				'generic-receiver',
				'Generic Receiver',
				'Accepts any JSON payload and stores device readings',
				'incoming',
				'["POST","PUT"]',
				'none',
				60,
				'{"target_table":"device_readings","field_mappings":{
					"device_id":{"source":"device_id","type":"string","required":true},
					"power":{"source":"power","type":"float","required":false},
					"energy":{"source":"energy","type":"float","required":false},
					"status":{"source":"status","type":"string","required":false,"default":"unknown"},
					"recorded_at":{"source":"timestamp","type":"datetime","required":false,"default":"now()"}
				}}',
				'{"type":"simple","success_status_code":200,"error_status_code":400}',
				1,
				'2025-06-14T12:00:00Z', '2025-06-14T12:00:00Z'
			)`,

			// GET-only status reporter: payload arrives entirely in the
			// query string.
			`INSERT OR IGNORE INTO webhook_definitions (
				id, slug, name, description, direction, allowed_methods,
				auth_type, rate_limit_per_minute, data_mapping_json,
				response_config_json, is_active, created_at, updated_at
			) VALUES (
				'01JWR6140000000000GETSTA00',
				'device-status',
				'Device Status Report',
				'GET-only receiver for devices that report state via query parameters',
				'incoming',
				'["GET"]',
				'none',
				120,
				'{"target_table":"device_readings","field_mappings":{
					"device_id":{"source":"device_id","type":"string","required":true},
					"power":{"source":"power","type":"float","required":false},
					"event_type":{"source":"event","type":"string","required":false},
					"recorded_at":{"source":"ts","type":"datetime","required":false,"default":"now()"}
				}}',
				'{"type":"custom_json","success_status_code":200,"custom_json":"{\"ok\":true}"}',
				1,
				'2025-06-14T12:00:00Z', '2025-06-14T12:00:00Z'
			)`,
		},
	})
}
