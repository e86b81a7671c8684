package introspect

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	goora "github.com/sijms/go-ora/v2"
)

const (
	DialectPostgres   = "postgresql"
	DialectMySQL      = "mysql"
	DialectSQLite     = "sqlite"
	DialectSQLServer  = "sqlserver"
	DialectOracle     = "oracle"
	DialectDuckDB     = "duckdb"
	DialectClickHouse = "clickhouse"
)

// target is a parsed connection string: the dialect plus what database/sql needs.
type target struct {
	dialect string
	driver  string
	dsn     string
	// clickhouse connects through clickhouse.OpenDB instead of a DSN.
	clickhouse *url.URL
}

// parseTarget resolves a URL-style connection string. SQLAlchemy style driver
// suffixes ("postgresql+psycopg2://") are accepted and ignored.
func parseTarget(connString string) (target, error) {
	raw := strings.TrimSpace(connString)
	if raw == "" {
		return target{}, fmt.Errorf("connection string is required")
	}
	// The driver suffix goes before url.Parse: schemes like cx_oracle are not
	// valid URL schemes.
	if scheme, rest, ok := strings.Cut(raw, "://"); ok {
		if idx := strings.IndexByte(scheme, '+'); idx >= 0 {
			raw = scheme[:idx] + "://" + rest
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, fmt.Errorf("parse connection string: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)

	switch scheme {
	case "postgres", "postgresql":
		u.Scheme = "postgres"
		return target{dialect: DialectPostgres, driver: "pgx", dsn: u.String()}, nil
	case "mysql", "mariadb":
		dsn, err := mysqlDSN(u)
		if err != nil {
			return target{}, err
		}
		return target{dialect: DialectMySQL, driver: "mysql", dsn: dsn}, nil
	case "sqlite", "sqlite3":
		path, err := filePath(u)
		if err != nil {
			return target{}, err
		}
		if path == "" {
			path = ":memory:"
		}
		return target{dialect: DialectSQLite, driver: "sqlite", dsn: path}, nil
	case "sqlserver", "mssql":
		return target{dialect: DialectSQLServer, driver: "sqlserver", dsn: sqlServerDSN(u)}, nil
	case "oracle":
		dsn, err := oracleDSN(u)
		if err != nil {
			return target{}, err
		}
		return target{dialect: DialectOracle, driver: "oracle", dsn: dsn}, nil
	case "duckdb":
		path, err := filePath(u)
		if err != nil {
			return target{}, err
		}
		if path == ":memory:" {
			path = ""
		}
		return target{dialect: DialectDuckDB, driver: "duckdb", dsn: path}, nil
	case "clickhouse":
		return target{dialect: DialectClickHouse, driver: "clickhouse", clickhouse: u}, nil
	default:
		return target{}, fmt.Errorf("unsupported database scheme %q", u.Scheme)
	}
}

// filePath follows the SQLAlchemy convention: sqlite:///relative.db and
// sqlite:////absolute/path.db.
func filePath(u *url.URL) (string, error) {
	if u.Host != "" {
		return "", fmt.Errorf("%s connection string must not have a host", u.Scheme)
	}
	path := u.Path
	if u.Opaque != "" {
		path = u.Opaque
	}
	path = strings.TrimPrefix(path, "/")
	if u.RawQuery != "" && path != "" {
		path += "?" + u.RawQuery
	}
	return path, nil
}

func mysqlDSN(u *url.URL) (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = u.User.Username()
	cfg.Passwd, _ = u.User.Password()
	cfg.Net = "tcp"
	cfg.Addr = hostPort(u, "3306")
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	query := u.Query()
	for key := range query {
		// SQLAlchemy-only options
		if key == "charset" {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[key] = query.Get(key)
	}
	return cfg.FormatDSN(), nil
}

func sqlServerDSN(u *url.URL) string {
	out := *u
	out.Scheme = "sqlserver"
	query := out.Query()
	if db := strings.TrimPrefix(out.Path, "/"); db != "" && query.Get("database") == "" {
		query.Set("database", db)
	}
	query.Del("driver")
	out.Path = ""
	out.RawQuery = query.Encode()
	return out.String()
}

func oracleDSN(u *url.URL) (string, error) {
	host, portText, err := net.SplitHostPort(hostPort(u, "1521"))
	if err != nil {
		return "", fmt.Errorf("parse oracle address: %w", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return "", fmt.Errorf("parse oracle port: %w", err)
	}
	query := u.Query()
	service := strings.TrimPrefix(u.Path, "/")
	if service == "" {
		service = query.Get("service_name")
	}
	query.Del("service_name")
	options := map[string]string{}
	for key := range query {
		options[key] = query.Get(key)
	}
	password, _ := u.User.Password()
	return goora.BuildUrl(host, port, service, u.User.Username(), password, options), nil
}

func hostPort(u *url.URL, defaultPort string) string {
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}
