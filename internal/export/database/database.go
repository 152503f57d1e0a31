// Package database streams the rows of the activity query from the database.
package database

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/michr/ops-toolkit/internal/export/models"
)

// ConnectionError is returned when the endpoint is malformed or cannot be reached.
type ConnectionError struct {
	Msg string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// QueryError is returned when the query cannot be run or its rows read.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query execution failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Endpoint is the host:port/service triple of a database.
type Endpoint struct {
	Host    string
	Port    int
	Service string
}

// ParseDSN parses a host:port/service endpoint.
func ParseDSN(dsn string) (Endpoint, error) {
	invalid := &ConnectionError{Msg: "invalid DSN format: " + dsn}

	host, portService, ok := strings.Cut(dsn, ":")
	if !ok || host == "" || strings.Contains(portService, ":") {
		return Endpoint{}, invalid
	}
	port, service, ok := strings.Cut(portService, "/")
	if !ok || service == "" || strings.Contains(service, "/") {
		return Endpoint{}, invalid
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return Endpoint{}, invalid
	}
	return Endpoint{Host: host, Port: p, Service: service}, nil
}

// Credentials identify the export against the database.
type Credentials struct {
	Username string
	Password string
	// DSN is the host:port/service endpoint.
	DSN string
}

func (c Credentials) connString(e Endpoint) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:   "/" + e.Service,
	}
	return u.String()
}

type dbPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Client runs queries on a database connection pool.
type Client struct {
	dbpool dbPool
}

type options struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// Options represents an optional function to override Client default values.
type Options func(*options)

// Connect opens a connection pool to the database and checks that it answers.
func Connect(ctx context.Context, creds Credentials, args ...Options) (*Client, error) {
	opts := options{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	slog.Debug("Creating database client", "dsn", creds.DSN)
	e, err := ParseDSN(creds.DSN)
	if err != nil {
		return nil, err
	}

	dbpool, err := opts.newPool(ctx, creds.connString(e))
	if err != nil {
		return nil, &ConnectionError{Msg: "database connection failed", Err: err}
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, &ConnectionError{Msg: "database connection failed", Err: err}
	}

	slog.Info("Connected to database", "host", e.Host, "port", e.Port, "service", e.Service)
	return &Client{dbpool: dbpool}, nil
}

// StreamRows runs sql each time the sequence is ranged over and yields its rows
// as they are read. Placeholders written :name are bound from params.
// The first error ends the sequence.
func (c *Client) StreamRows(ctx context.Context, sql string, params map[string]any) iter.Seq2[models.Row, error] {
	return func(yield func(models.Row, error) bool) {
		if c.dbpool == nil {
			yield(models.Row{}, &QueryError{Err: errors.New("database not initialized")})
			return
		}

		sql, args := bindNamed(sql, params)
		rows, err := c.dbpool.Query(ctx, sql, args...)
		if err != nil {
			yield(models.Row{}, &QueryError{Err: err})
			return
		}
		defer rows.Close()

		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				yield(models.Row{}, &QueryError{Err: err})
				return
			}
			row := models.NewRow()
			for i, fd := range rows.FieldDescriptions() {
				row.Set(fd.Name, values[i])
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Row{}, &QueryError{Err: err})
		}
	}
}

// Close closes the database connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (c *Client) Close() error {
	if c.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.dbpool.Close()
	}()

	select {
	case <-done:
		c.dbpool = nil
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout while closing database, connection may still be open")
	}
}

// bindNamed rewrites the :name placeholders found in params to the @name form
// understood by pgx. Literals, quoted identifiers, comments and :: casts are
// left untouched.
func bindNamed(sql string, params map[string]any) (string, []any) {
	if len(params) == 0 {
		return sql, nil
	}

	var b strings.Builder
	b.Grow(len(sql))
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			end := strings.IndexByte(sql[i+1:], c)
			if end < 0 {
				b.WriteString(sql[i:])
				i = len(sql)
				continue
			}
			b.WriteString(sql[i : i+end+2])
			i += end + 2
		case strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				end = len(sql) - i
			}
			b.WriteString(sql[i : i+end])
			i += end
		case strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				b.WriteString(sql[i:])
				i = len(sql)
				continue
			}
			b.WriteString(sql[i : i+end+4])
			i += end + 4
		case strings.HasPrefix(sql[i:], "::"):
			b.WriteString("::")
			i += 2
		case c == ':':
			name := identAt(sql[i+1:])
			if _, ok := params[name]; ok && name != "" {
				b.WriteByte('@')
			} else {
				b.WriteByte(':')
			}
			b.WriteString(name)
			i += 1 + len(name)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), []any{pgx.NamedArgs(params)}
}

func identAt(s string) string {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9') {
			continue
		}
		return s[:i]
	}
	return s
}
