package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250601-001000",
		Description: "Seed schema catalog with clinic target tables",
		Up: []string{
			`INSERT OR IGNORE INTO schema_catalog (id, name, display_name, fields_json, created_at, updated_at) VALUES (
				'01JWR60000000000000CATDEV0',
				'device_readings',
				'Device Readings',
				'[
					{"name":"id","type":"text","optional":false,"auto":true},
					{"name":"clinic_id","type":"text","optional":true,"auto":true},
					{"name":"device_id","type":"text","optional":false,"auto":false},
					{"name":"energy","type":"real","optional":true,"auto":false},
					{"name":"power","type":"real","optional":true,"auto":false},
					{"name":"voltage","type":"real","optional":true,"auto":false},
					{"name":"status","type":"text","optional":true,"auto":false},
					{"name":"event_type","type":"text","optional":true,"auto":false},
					{"name":"recorded_at","type":"datetime","optional":true,"auto":false},
					{"name":"created_at","type":"datetime","optional":false,"auto":true},
					{"name":"updated_at","type":"datetime","optional":false,"auto":true}
				]',
				'2025-06-01T00:10:00Z', '2025-06-01T00:10:00Z'
			)`,
			`INSERT OR IGNORE INTO schema_catalog (id, name, display_name, fields_json, created_at, updated_at) VALUES (
				'01JWR60000000000000CATAPP0',
				'appointments',
				'Appointments',
				'[
					{"name":"id","type":"text","optional":false,"auto":true},
					{"name":"clinic_id","type":"text","optional":true,"auto":true},
					{"name":"person_id","type":"text","optional":false,"auto":false},
					{"name":"cabin_id","type":"text","optional":true,"auto":false},
					{"name":"starts_at","type":"datetime","optional":false,"auto":false},
					{"name":"ends_at","type":"datetime","optional":true,"auto":false},
					{"name":"status","type":"text","optional":true,"auto":false},
					{"name":"notes","type":"text","optional":true,"auto":false},
					{"name":"created_at","type":"datetime","optional":false,"auto":true},
					{"name":"updated_at","type":"datetime","optional":false,"auto":true}
				]',
				'2025-06-01T00:10:00Z', '2025-06-01T00:10:00Z'
			)`,
			`INSERT OR IGNORE INTO schema_catalog (id, name, display_name, fields_json, created_at, updated_at) VALUES (
				'01JWR60000000000000CATPER0',
				'persons',
				'Persons',
				'[
					{"name":"id","type":"text","optional":false,"auto":true},
					{"name":"clinic_id","type":"text","optional":true,"auto":true},
					{"name":"first_name","type":"text","optional":false,"auto":false},
					{"name":"last_name","type":"text","optional":true,"auto":false},
					{"name":"email","type":"text","optional":true,"auto":false},
					{"name":"phone","type":"text","optional":true,"auto":false},
					{"name":"created_at","type":"datetime","optional":false,"auto":true},
					{"name":"updated_at","type":"datetime","optional":false,"auto":true}
				]',
				'2025-06-01T00:10:00Z', '2025-06-01T00:10:00Z'
			)`,
		},
	})
}
