package db

import (
	"fmt"
	"net/url"
	"strconv"
)

// ConnInfo holds the settings shared by the pgx pool and the libpq-based
// command line tools (psql, ogr2ogr).
type ConnInfo struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// URL returns a postgres:// connection string.
func (c ConnInfo) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	if c.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(c.SSLMode)
	}
	return u.String()
}

// Keywords returns a libpq keyword/value string without the password, e.g.
// for ogr2ogr's PG: datasource. The password travels in PGPASSWORD.
func (c ConnInfo) Keywords() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s", c.Host, c.Port, c.Name, c.User)
}

// Env returns libpq environment variables for a child process.
func (c ConnInfo) Env() []string {
	env := []string{
		"PGHOST=" + c.Host,
		"PGPORT=" + strconv.Itoa(c.Port),
		"PGDATABASE=" + c.Name,
		"PGUSER=" + c.User,
		"PGPASSWORD=" + c.Password,
	}
	if c.SSLMode != "" {
		env = append(env, "PGSSLMODE="+c.SSLMode)
	}
	return env
}
