// Package repository is the PostgreSQL implementation of store.Store.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/store"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const migrationsTable = "storefront_schema_migrations"

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	// SSLMode defaults to "disable".
	SSLMode string
	// MaxOpenConns defaults to 25.
	MaxOpenConns int
}

// DSN renders the credentials as a postgres:// URL, escaping user and password.
func (c *Credentials) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

type Repository struct {
	db *sql.DB
}

var _ store.Store = (*Repository)(nil)

// NewRepository opens the pool and waits for one successful ping.
func NewRepository(ctx context.Context, cred *Credentials) (*Repository, error) {
	db, err := sql.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cred.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(max(maxOpen/4, 2))
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s on %s: %w", cred.DBName, cred.Host, err)
	}
	return &Repository{db: db}, nil
}

// Migrate applies every pending migration from dir. An up-to-date schema is not an error.
func (r *Repository) Migrate(dir string) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		version, dirty, _ := m.Version()
		return fmt.Errorf("could not run migrations (version %d, dirty %t): %w", version, dirty, err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
