package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// PGConfig holds configuration for the Postgres audit sink.
type PGConfig struct {
	DSN       string
	Table     string
	BatchSize int
	FlushMS   int
	UseCopy   bool
}

// PGSink batches Records and flushes them to Postgres, either via batched
// INSERT or (when UseCopy is set) the COPY protocol.
type PGSink struct {
	config PGConfig
	db     *sql.DB

	mu    sync.Mutex
	batch []Record

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// validateTableName guards against SQL injection through a table name
// that ultimately gets string-concatenated into DDL/COPY statements —
// parameterized queries can't bind identifiers, so the name itself must
// be restricted to a safe character class and PostgreSQL's 63-byte limit.
func validateTableName(name string) error {
	if !validTableName.MatchString(name) {
		return fmt.Errorf("invalid table name: %q", name)
	}
	return nil
}

// NewPGSinkFromEnv creates a PGSink entirely from environment variables,
// including PG_DSN/PG_TABLE. Prefer NewPGSinkFromConfig when the caller
// already has a resolved pkg/config.Config, so the table name and batching
// knobs have exactly one source of truth.
func NewPGSinkFromEnv() *PGSink {
	return NewPGSinkFromConfig(
		getEnvOr("PG_DSN", ""),
		getEnvOr("PG_TABLE", "verdicts"),
		getIntEnv("PG_BATCH_SIZE", 500),
		getIntEnv("PG_FLUSH_MS", 500),
		getBoolEnv("PG_COPY", true),
	)
}

// NewPGSink creates a PGSink with an explicit DSN and default batching.
func NewPGSink(dsn string) *PGSink {
	return NewPGSinkFromConfig(dsn, "verdicts", 500, 500, true)
}

// NewPGSinkFromConfig builds a PGSink from explicit settings, normally
// cfg.PGDSN/cfg.PGTable/cfg.PGBatchSize/cfg.PGFlushMs/cfg.PGUseCopy.
func NewPGSinkFromConfig(dsn, table string, batchSize, flushMS int, useCopy bool) *PGSink {
	return &PGSink{
		config: PGConfig{
			DSN:       dsn,
			Table:     table,
			BatchSize: batchSize,
			FlushMS:   flushMS,
			UseCopy:   useCopy,
		},
	}
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) Start(ctx context.Context) error {
	if err := validateTableName(s.config.Table); err != nil {
		return err
	}

	db, err := sql.Open("postgres", s.config.DSN)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s.db = db
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.ensureSchema(); err != nil {
		s.cancel()
		s.cancel = nil
		db.Close()
		return err
	}

	s.batch = make([]Record, 0, s.config.BatchSize)
	s.done = make(chan struct{})

	go s.flushRoutine()

	return nil
}

// ensureSchema creates the verdicts table and its indexes if they do not
// already exist. Table name is pre-validated by Start.
func (s *PGSink) ensureSchema() error {
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT,
		ts TIMESTAMPTZ NOT NULL DEFAULT now(),
		ip TEXT,
		route TEXT,
		verdict JSONB NOT NULL
	)`, s.config.Table)
	if _, err := s.db.ExecContext(s.ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createTSIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts)`, s.config.Table, s.config.Table)
	if _, err := s.db.ExecContext(s.ctx, createTSIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	createGinIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_gin ON %s USING GIN (verdict)`, s.config.Table, s.config.Table)
	if _, err := s.db.ExecContext(s.ctx, createGinIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func (s *PGSink) Enqueue(r Record) error {
	s.mu.Lock()
	s.batch = append(s.batch, r)
	shouldFlush := len(s.batch) >= s.config.BatchSize
	s.mu.Unlock()

	if shouldFlush {
		return s.flushBatch()
	}
	return nil
}

// flushBatch routes to the COPY or INSERT path and clears the batch only
// on success — a failed flush leaves records queued for the next attempt.
func (s *PGSink) flushBatch() error {
	var err error
	if s.config.UseCopy {
		err = s.flushWithCopy()
	} else {
		err = s.flushWithInsert()
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.batch = s.batch[:0]
	s.mu.Unlock()
	return nil
}

func (s *PGSink) flushWithInsert() error {
	s.mu.Lock()
	batch := s.batch
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (event_id, ts, ip, route, verdict) VALUES ", s.config.Table)
	args := make([]interface{}, 0, len(batch)*5)
	for i, r := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		verdictJSON, err := json.Marshal(r.Verdict)
		if err != nil {
			return fmt.Errorf("failed to serialize verdict: %w", err)
		}
		args = append(args, r.EventID, r.TS, r.IP, r.Route, verdictJSON)
	}

	_, err := s.db.ExecContext(s.ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

func (s *PGSink) flushWithCopy() error {
	s.mu.Lock()
	batch := s.batch
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(s.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(s.ctx, fmt.Sprintf(`COPY %s (event_id, ts, ip, route, verdict) FROM STDIN`, s.config.Table))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, r := range batch {
		verdictJSON, err := json.Marshal(r.Verdict)
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("failed to serialize verdict: %w", err)
		}
		if _, err := stmt.ExecContext(s.ctx, r.EventID, r.TS, r.IP, r.Route, string(verdictJSON)); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("failed to copy row: %w", err)
		}
	}

	if _, err := stmt.ExecContext(s.ctx); err != nil {
		stmt.Close()
		tx.Rollback()
		return fmt.Errorf("failed to flush copy: %w", err)
	}
	stmt.Close()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit copy transaction: %w", err)
	}
	return nil
}

// flushRoutine flushes on a fixed interval until the sink's context is
// cancelled, then signals done.
func (s *PGSink) flushRoutine() {
	defer close(s.done)
	ticker := time.NewTicker(time.Duration(s.config.FlushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			empty := len(s.batch) == 0
			s.mu.Unlock()
			if !empty {
				_ = s.flushBatch()
			}
		}
	}
}

func (s *PGSink) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	var flushErr error
	s.mu.Lock()
	hasRemaining := len(s.batch) > 0
	s.mu.Unlock()
	if hasRemaining {
		flushErr = s.flushBatch()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil && flushErr == nil {
			flushErr = err
		}
	}
	return flushErr
}

func getIntEnv(key string, defaultValue int) int {
	v := getEnvOr(key, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
