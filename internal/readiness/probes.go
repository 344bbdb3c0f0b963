package readiness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	// registers the "sqlite" database/sql driver
	_ "modernc.org/sqlite"
)

// Probe checks whether a dependency accepts connections.
type Probe interface {
	Name() string
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

// Name returns the probe label.
func (p ProbeFunc) Name() string { return p.Label }

// Probe calls the wrapped function.
func (p ProbeFunc) Probe(ctx context.Context) error { return p.Fn(ctx) }

// TCPProbe dials a TCP address.
type TCPProbe struct {
	Address string
	Timeout time.Duration
}

// Name returns the probed address.
func (p TCPProbe) Name() string { return "tcp://" + p.Address }

// Probe opens and immediately closes a TCP connection.
func (p TCPProbe) Probe(ctx context.Context) error {
	dialer := net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// PostgresProbe connects to a PostgreSQL database with the application's credentials.
type PostgresProbe struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// Name returns the probed server without credentials.
func (p PostgresProbe) Name() string {
	return "postgres://" + net.JoinHostPort(p.Host, strconv.Itoa(p.Port)) + "/" + p.Database
}

// ConnString renders the probe target as a PostgreSQL URL.
func (p PostgresProbe) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	return u.String()
}

// Probe connects, pings and disconnects.
func (p PostgresProbe) Probe(ctx context.Context) error {
	cfg, err := pgx.ParseConfig(p.ConnString())
	if err != nil {
		return fmt.Errorf("parse postgres config: %w", err)
	}
	if p.Timeout > 0 {
		cfg.ConnectTimeout = p.Timeout
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	return conn.Ping(ctx)
}

// RedisProbe sends PING to a Redis server.
type RedisProbe struct {
	URL     string
	Timeout time.Duration
}

// Name returns the probed server address.
func (p RedisProbe) Name() string {
	opts, err := redis.ParseURL(p.URL)
	if err != nil {
		return "redis"
	}
	return "redis://" + opts.Addr
}

// Probe pings the server with a short-lived client.
func (p RedisProbe) Probe(ctx context.Context) error {
	opts, err := redis.ParseURL(p.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	if p.Timeout > 0 {
		opts.DialTimeout = p.Timeout
	}
	opts.MaxRetries = -1

	client := redis.NewClient(opts)
	defer client.Close()

	return client.Ping(ctx).Err()
}

// SQLiteProbe checks a SQLite database file without creating it. Django
// creates the file on first migrate, so a missing file inside an existing
// directory counts as ready.
type SQLiteProbe struct {
	Path string
}

// Name returns the database file path.
func (p SQLiteProbe) Name() string { return "sqlite://" + p.Path }

// Probe opens an existing file read-write and reads its schema version.
func (p SQLiteProbe) Probe(ctx context.Context) error {
	info, err := os.Stat(p.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return p.probeDir()
	case err != nil:
		return err
	case info.IsDir():
		return fmt.Errorf("%s is a directory", p.Path)
	}

	db, err := sql.Open("sqlite", p.dsn())
	if err != nil {
		return err
	}
	defer db.Close()

	var version int
	return db.QueryRowContext(ctx, "PRAGMA schema_version").Scan(&version)
}

func (p SQLiteProbe) probeDir() error {
	dir := filepath.Dir(p.Path)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// dsn opens the file without SQLITE_OPEN_CREATE.
func (p SQLiteProbe) dsn() string {
	return "file:" + sqlitePathEscaper.Replace(p.Path) + "?mode=rw"
}

var sqlitePathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")
