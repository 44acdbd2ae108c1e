package config

import (
	"github.com/spf13/viper"

	"github.com/ajitpratap0/airbridge/pkg/auth"
	"github.com/ajitpratap0/airbridge/pkg/errors"
	"github.com/ajitpratap0/airbridge/pkg/warehouse"
)

// Credentials are the secrets a run needs, read from the environment.
type Credentials struct {
	AirtableAPIKey string
	Warehouse      warehouse.Config
}

// NewEnv returns a viper instance that resolves keys from environment
// variables.
func NewEnv() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("WAREHOUSE_DRIVER", string(warehouse.DriverSnowflake))
	return v
}

// LoadCredentials reads the API key and warehouse connection settings from v.
// A nil v reads the process environment.
func LoadCredentials(v *viper.Viper) (*Credentials, error) {
	if v == nil {
		v = NewEnv()
	}

	apiKey := v.GetString("AIRTABLE_API_KEY")
	if apiKey == "" {
		return nil, errors.New(errors.ErrorTypeAuthentication, "AIRTABLE_API_KEY is not set")
	}

	wh, err := WarehouseConfig(v)
	if err != nil {
		return nil, err
	}
	return &Credentials{AirtableAPIKey: apiKey, Warehouse: wh}, nil
}

// WarehouseConfig builds the warehouse connection settings. WAREHOUSE_DSN is
// used verbatim when set; otherwise a Snowflake DSN is assembled from the
// SNOWFLAKE_* variables.
func WarehouseConfig(v *viper.Viper) (warehouse.Config, error) {
	driver := warehouse.Driver(v.GetString("WAREHOUSE_DRIVER"))
	cfg := warehouse.Config{Driver: driver}

	if dsn := v.GetString("WAREHOUSE_DSN"); dsn != "" {
		cfg.DSN = dsn
		return cfg, nil
	}
	if driver != warehouse.DriverSnowflake {
		return cfg, errors.Newf(errors.ErrorTypeConfig, "WAREHOUSE_DSN is required for driver %s", driver)
	}

	sf := warehouse.SnowflakeConfig{
		Account:                v.GetString("SNOWFLAKE_ACCOUNT"),
		User:                   v.GetString("SNOWFLAKE_USER"),
		Password:               v.GetString("SNOWFLAKE_PASSWORD"),
		Database:               v.GetString("SNOWFLAKE_DATABASE"),
		Schema:                 v.GetString("SNOWFLAKE_SCHEMA"),
		Warehouse:              v.GetString("SNOWFLAKE_WAREHOUSE"),
		Role:                   v.GetString("SNOWFLAKE_ROLE"),
		ClientSessionKeepAlive: v.GetBool("SNOWFLAKE_CLIENT_SESSION_KEEP_ALIVE"),
	}
	if login := v.GetString("SNOWFLAKE_LOGIN"); login != "" {
		sf.User = login
	}
	if path := v.GetString("SNOWFLAKE_PRIVATE_KEY_PATH"); path != "" {
		key, err := auth.LoadPrivateKey(path, v.GetString("SNOWFLAKE_PRIVATE_KEY_PASSPHRASE"))
		if err != nil {
			return cfg, err
		}
		sf.PrivateKey = key
	}

	dsn, err := warehouse.SnowflakeDSN(sf)
	if err != nil {
		return cfg, err
	}
	cfg.DSN = dsn
	return cfg, nil
}
