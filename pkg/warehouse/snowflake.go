package warehouse

import (
	"crypto/rsa"

	"github.com/snowflakedb/gosnowflake"

	"github.com/ajitpratap0/airbridge/pkg/errors"
)

// SnowflakeConfig holds Snowflake connection parameters. When PrivateKey is
// set key-pair (JWT) authentication is used and Password is ignored.
type SnowflakeConfig struct {
	Account   string
	User      string
	Password  string
	Database  string
	Schema    string
	Warehouse string
	Role      string

	PrivateKey *rsa.PrivateKey

	ClientSessionKeepAlive bool
}

// SnowflakeDSN builds a gosnowflake DSN from cfg.
func SnowflakeDSN(cfg SnowflakeConfig) (string, error) {
	switch {
	case cfg.Account == "":
		return "", errors.New(errors.ErrorTypeConfig, "snowflake account is required")
	case cfg.User == "":
		return "", errors.New(errors.ErrorTypeConfig, "snowflake user is required")
	case cfg.Database == "":
		return "", errors.New(errors.ErrorTypeConfig, "snowflake database is required")
	case cfg.PrivateKey == nil && cfg.Password == "":
		return "", errors.New(errors.ErrorTypeAuthentication, "snowflake password or private key is required")
	}

	sf := &gosnowflake.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
		Role:      cfg.Role,
	}
	if cfg.ClientSessionKeepAlive {
		keepAlive := "true"
		sf.Params = map[string]*string{"client_session_keep_alive": &keepAlive}
	}
	if cfg.PrivateKey != nil {
		sf.Authenticator = gosnowflake.AuthTypeJwt
		sf.PrivateKey = cfg.PrivateKey
	} else {
		sf.Password = cfg.Password
	}

	dsn, err := gosnowflake.DSN(sf)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "failed to build snowflake dsn")
	}
	return dsn, nil
}
