package runlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/pipeline"
)

// Entry is a row of etl.run_log.
type Entry struct {
	ID         int64      `json:"id"`
	RunID      uuid.UUID  `json:"run_id"`
	Stage      string     `json:"stage"`
	Outcome    string     `json:"outcome"`
	Detail     string     `json:"detail,omitempty"`
	Rows       int64      `json:"rows"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Log provides read/write access to etl.run_log. It also observes pipeline
// runs; recording failures are logged and never stop a run.
type Log struct {
	pool db.Pool
	log  *zap.Logger

	mu      sync.Mutex
	pending map[string]int64
}

var _ pipeline.Observer = (*Log)(nil)

// New creates a Log backed by pool.
func New(pool db.Pool) *Log {
	return &Log{
		pool:    pool,
		log:     zap.L().With(zap.String("component", "runlog")),
		pending: make(map[string]int64),
	}
}

// Start records a running stage and returns the entry ID.
func (l *Log) Start(ctx context.Context, runID uuid.UUID, stage string) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO etl.run_log (run_id, stage, outcome, started_at)
		 VALUES ($1, $2, 'running', now()) RETURNING id`,
		runID, stage,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s", stage)
	}
	return id, nil
}

// Finish records the outcome of a started stage.
func (l *Log) Finish(ctx context.Context, id int64, res pipeline.Result) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE etl.run_log
		 SET outcome = $1, detail = $2, rows = $3, finished_at = $4
		 WHERE id = $5`,
		res.Outcome.String(), detail(res), res.Rows, res.Finished, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: finish entry %d", id)
	}
	return nil
}

// Record inserts a complete entry for a stage that never started, such as
// one skipped because a dependency did not complete.
func (l *Log) Record(ctx context.Context, runID uuid.UUID, res pipeline.Result) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO etl.run_log (run_id, stage, outcome, detail, rows, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, res.Stage, res.Outcome.String(), detail(res), res.Rows, res.Started, res.Finished,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: record %s", res.Stage)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, run_id, stage, outcome, detail, rows, started_at, finished_at
		 FROM etl.run_log ORDER BY started_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list recent")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var d *string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Outcome, &d, &e.Rows, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if d != nil {
			e.Detail = *d
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StageStarted implements pipeline.Observer.
func (l *Log) StageStarted(ctx context.Context, runID uuid.UUID, stage string) {
	id, err := l.Start(ctx, runID, stage)
	if err != nil {
		l.log.Warn("failed to record stage start", zap.String("stage", stage), zap.Error(err))
		return
	}
	l.mu.Lock()
	l.pending[key(runID, stage)] = id
	l.mu.Unlock()
}

// StageFinished implements pipeline.Observer.
func (l *Log) StageFinished(ctx context.Context, runID uuid.UUID, res pipeline.Result) {
	k := key(runID, res.Stage)
	l.mu.Lock()
	id, ok := l.pending[k]
	delete(l.pending, k)
	l.mu.Unlock()

	var err error
	if ok {
		err = l.Finish(ctx, id, res)
	} else {
		err = l.Record(ctx, runID, res)
	}
	if err != nil {
		l.log.Warn("failed to record stage outcome", zap.String("stage", res.Stage), zap.Error(err))
	}
}

func key(runID uuid.UUID, stage string) string {
	return runID.String() + "/" + stage
}

func detail(res pipeline.Result) *string {
	if res.Reason == "" {
		return nil
	}
	return &res.Reason
}
