package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	_ "github.com/lib/pq"
)

// postgresConnectTimeout bounds the initial dial and ping.
const postgresConnectTimeout = 10 * time.Second

// openPostgres opens the shared analysis store of the Pro tier.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database %s: %w", postgresTarget(cfg), err)
	}
	return db, nil
}

// postgresDSN builds a URL DSN so credentials with spaces or quotes
// survive intact. Sessions run in UTC so stored analysis timestamps and
// deal dates compare without a zone shift.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host, port, dbname := postgresDefaults(cfg)

	q := url.Values{}
	q.Set("sslmode", getSSLMode(cfg.PostgresSSLMode))
	q.Set("application_name", "kestrel")
	q.Set("connect_timeout", strconv.Itoa(int(postgresConnectTimeout/time.Second)))
	q.Set("timezone", "UTC")

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + dbname,
		RawQuery: q.Encode(),
	}
	if cfg.PostgresUser != "" {
		if cfg.PostgresPassword != "" {
			u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
		} else {
			u.User = url.User(cfg.PostgresUser)
		}
	}
	return u.String()
}

// postgresTarget names the database in errors without the password.
func postgresTarget(cfg domain.RepositoryConfig) string {
	host, port, dbname := postgresDefaults(cfg)
	return fmt.Sprintf("%s@%s/%s", cfg.PostgresUser, net.JoinHostPort(host, strconv.Itoa(port)), dbname)
}

func postgresDefaults(cfg domain.RepositoryConfig) (host string, port int, dbname string) {
	host, port, dbname = cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 5432
	}
	if dbname == "" {
		dbname = "kestrel"
	}
	return host, port, dbname
}

func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
