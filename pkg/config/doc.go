// Package config loads airbridge configuration.
//
// Run parameters for the send command come from a YAML file. ${VAR_NAME}
// references in the file are replaced with environment values before
// parsing:
//
//	airtable_base_id: ${AIRTABLE_BASE_ID}
//	airtable_table_name: Projects
//	max_workers: 4
//	tables:
//	  - analytics.projects_new
//	  - table: analytics.projects_changed
//	    update: true
//	field_mappings:
//	  Owner: [owner_email, owner_name]
//
// Credentials never live in the file. LoadCredentials reads them from the
// environment:
//
//	AIRTABLE_API_KEY
//	WAREHOUSE_DRIVER            snowflake (default), postgres, mysql or sqlite
//	WAREHOUSE_DSN               used as is when set
//	SNOWFLAKE_ACCOUNT, SNOWFLAKE_USER or SNOWFLAKE_LOGIN, SNOWFLAKE_PASSWORD,
//	SNOWFLAKE_DATABASE, SNOWFLAKE_SCHEMA, SNOWFLAKE_WAREHOUSE, SNOWFLAKE_ROLE,
//	SNOWFLAKE_PRIVATE_KEY_PATH, SNOWFLAKE_PRIVATE_KEY_PASSPHRASE
package config
