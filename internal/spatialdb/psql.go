package spatialdb

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/db"
)

// PSQL runs statements through the psql client. The password is passed in
// PGPASSWORD and never appears on the command line.
type PSQL struct {
	binPath string
	conn    db.ConnInfo
	log     *zap.Logger
}

// NewPSQL creates a PSQL executor. If binPath is empty, "psql" is used.
func NewPSQL(binPath string, conn db.ConnInfo) *PSQL {
	if binPath == "" {
		binPath = "psql"
	}
	return &PSQL{
		binPath: binPath,
		conn:    conn,
		log:     zap.L().With(zap.String("component", "spatialdb.psql")),
	}
}

// baseArgs are the connection and error-handling flags used on every call.
func (p *PSQL) baseArgs() []string {
	return []string{
		"-X",
		"-h", p.conn.Host,
		"-p", strconv.Itoa(p.conn.Port),
		"-d", p.conn.Name,
		"-U", p.conn.User,
		"--no-password",
		"-v", "ON_ERROR_STOP=1",
	}
}

func (p *PSQL) run(ctx context.Context, stdin string, extra ...string) (string, error) {
	args := append(p.baseArgs(), extra...)
	cmd := exec.CommandContext(ctx, p.binPath, args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.conn.Password)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "spatialdb: psql failed: %s", strings.TrimSpace(stderr.String()))
	}
	if s := strings.TrimSpace(stderr.String()); s != "" {
		p.log.Debug("psql stderr", zap.String("output", s))
	}
	return stdout.String(), nil
}

// Exec feeds sql to psql on stdin.
func (p *PSQL) Exec(ctx context.Context, sql string) error {
	out, err := p.run(ctx, sql, "-f", "-")
	if err != nil {
		return err
	}
	p.log.Debug("psql exec", zap.String("output", strings.TrimSpace(out)))
	return nil
}

// QueryText runs sql in tuples-only unaligned mode and returns the trimmed output.
func (p *PSQL) QueryText(ctx context.Context, sql string) (string, error) {
	out, err := p.run(ctx, sql, "-t", "-A", "-f", "-")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// TableExists asks to_regclass for table.
func (p *PSQL) TableExists(ctx context.Context, table db.Table) (bool, error) {
	out, err := p.QueryText(ctx, existsSQL(table))
	if err != nil {
		return false, eris.Wrapf(err, "spatialdb: check %s", table)
	}
	return out == "t", nil
}

// CopyCSV runs a client-side \copy so the file is read on this host.
func (p *PSQL) CopyCSV(ctx context.Context, src CSVSource) (int64, error) {
	meta := CopyMeta(src)
	out, err := p.run(ctx, "", "-c", meta)
	if err != nil {
		return 0, eris.Wrapf(err, "spatialdb: copy %s into %s", src.Path, src.Table)
	}
	return parseCopyTag(out), nil
}

// CopyMeta renders the \copy meta-command for src.
func CopyMeta(src CSVSource) string {
	return "\\copy " + src.Table.Ident() +
		" (" + db.QuoteIdents(db.ColumnNames(src.Columns)) + ")" +
		" FROM " + db.QuoteLiteral(src.Path) +
		" WITH (FORMAT csv, HEADER true)"
}

// parseCopyTag extracts n from psql's "COPY n" status line.
func parseCopyTag(out string) int64 {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "COPY "); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}
