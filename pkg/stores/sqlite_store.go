package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/openfroyo/deployconf/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const solutionColumns = `id, intent, resources, stage_answers, completed_stages, current_stage, status,
	manifest_text, generation, generating_since, deployment, version, created_at, updated_at`

// SQLiteStore implements Store on SQLite. Updates run in BEGIN IMMEDIATE
// transactions and are guarded by the record version, so concurrent
// processes sharing one database file never lose a write.
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	locks  *keyedMutex
	logger zerolog.Logger
	now    engine.Clock
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if isMemoryPath(cfg.Path) {
		// Every connection to :memory: is a separate database.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:    cfg,
		locks:  newKeyedMutex(),
		logger: zerolog.Nop(),
		now:    time.Now,
	}, nil
}

// WithLogger sets the logger used for store diagnostics.
func (s *SQLiteStore) WithLogger(logger zerolog.Logger) *SQLiteStore {
	s.logger = logger.With().Str("component", "store").Logger()
	return s
}

// WithClock overrides the clock used for timestamps.
func (s *SQLiteStore) WithClock(now engine.Clock) *SQLiteStore {
	s.now = now
	return s
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	s.logger.Debug().Str("path", s.cfg.Path).Msg("Database opened")
	return nil
}

func (s *SQLiteStore) dsn() string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()),
		"_pragma=synchronous(NORMAL)",
		"_txlock=immediate",
	}
	if !isMemoryPath(s.cfg.Path) {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(s.cfg.Path, "?") {
		sep = "&"
	}
	return s.cfg.Path + sep + strings.Join(pragmas, "&")
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// errNotInitialized reports use of the store before Init.
func errNotInitialized() error {
	return engine.NewPersistenceError("database not initialized", nil)
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return errNotInitialized()
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return errNotInitialized()
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Create inserts a new solution in status selected.
func (s *SQLiteStore) Create(ctx context.Context, id, intent string, resources []engine.ResourceRef) (*engine.SolutionRecord, error) {
	if s.db == nil {
		return nil, errNotInitialized()
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	rec := engine.NewSolutionRecord(id, intent, resources, s.now().UTC())
	if err := engine.ValidateRecord(rec); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engine.NewPersistenceError("failed to begin transaction", err).WithSolution(id)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM solutions WHERE id = ?", id).Scan(&exists)
	switch {
	case err == nil:
		return nil, &engine.AlreadyExistsError{SolutionID: id}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, engine.NewPersistenceError("failed to check solution", err).WithSolution(id)
	}

	row, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO solutions (`+solutionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.args()...)
	if err != nil {
		return nil, engine.NewPersistenceError("failed to create solution", err).WithSolution(id)
	}

	if err := insertAudit(ctx, tx, rec, ActionCreated, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, engine.NewPersistenceError("failed to commit solution", err).WithSolution(id)
	}

	s.logger.Debug().Str("solution_id", id).Msg("Solution created")
	return rec, nil
}

// Get returns the committed record for id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*engine.SolutionRecord, error) {
	if s.db == nil {
		return nil, errNotInitialized()
	}
	return loadRecord(ctx, s.db, id)
}

// Update applies fn to a copy of the record and commits it atomically. If fn
// or the invariant check fails nothing is written.
func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*engine.SolutionRecord) error) (*engine.SolutionRecord, error) {
	if s.db == nil {
		return nil, errNotInitialized()
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engine.NewPersistenceError("failed to begin transaction", err).WithSolution(id)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := loadRecord(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	after := before.Clone()
	if err := fn(after); err != nil {
		return nil, err
	}
	if err := engine.CheckMutation(before, after); err != nil {
		return nil, err
	}
	after.Version = before.Version + 1
	after.UpdatedAt = s.now().UTC()

	row, err := encodeRecord(after)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE solutions SET
			intent = ?, stage_answers = ?, completed_stages = ?, current_stage = ?, status = ?,
			manifest_text = ?, generation = ?, generating_since = ?, deployment = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, row.intent, row.stageAnswers, row.completedStages, row.currentStage, row.status,
		row.manifestText, row.generation, row.generatingSince, row.deployment,
		row.version, row.updatedAt, id, before.Version)
	if err != nil {
		return nil, engine.NewPersistenceError("failed to update solution", err).WithSolution(id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, engine.NewPersistenceError("failed to get rows affected", err).WithSolution(id)
	}
	if n == 0 {
		return nil, engine.NewConflictError("solution was modified concurrently", nil).WithSolution(id)
	}

	for i := len(before.ValidationAttempts); i < len(after.ValidationAttempts); i++ {
		if err := insertAttempt(ctx, tx, id, i, after.ValidationAttempts[i]); err != nil {
			return nil, err
		}
	}

	action, details := describeChange(before, after)
	if err := insertAudit(ctx, tx, after, action, details); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, engine.NewPersistenceError("failed to commit solution", err).WithSolution(id)
	}

	s.logger.Debug().
		Str("solution_id", id).
		Str("action", action).
		Int64("version", after.Version).
		Msg("Solution updated")
	return after.Clone(), nil
}

// List returns solutions ordered by creation time, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter engine.SolutionFilter) ([]*engine.SolutionRecord, error) {
	if s.db == nil {
		return nil, errNotInitialized()
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + solutionColumns + ` FROM solutions`
	args := []interface{}{}
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engine.NewPersistenceError("failed to list solutions", err)
	}
	defer rows.Close()

	var records []*engine.SolutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewPersistenceError("failed to iterate solutions", err)
	}
	rows.Close()

	for _, rec := range records {
		attempts, err := loadAttempts(ctx, s.db, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.ValidationAttempts = attempts
	}

	return records, nil
}

// ListAudit returns audit entries for a solution in commit order. An empty
// solutionID lists entries for every solution.
func (s *SQLiteStore) ListAudit(ctx context.Context, solutionID string, limit int) ([]*AuditEntry, error) {
	if s.db == nil {
		return nil, errNotInitialized()
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	query := `SELECT id, solution_id, action, version, status, stage, details, timestamp FROM audit`
	args := []interface{}{}
	if solutionID != "" {
		query += " WHERE solution_id = ?"
		args = append(args, solutionID)
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SolutionID, &e.Action, &e.Version, &e.Status, &e.Stage, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if details.Valid {
			e.Details = &details.String
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func loadRecord(ctx context.Context, q queryer, id string) (*engine.SolutionRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+solutionColumns+` FROM solutions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &engine.NotFoundError{SolutionID: id}
		}
		return nil, err
	}

	attempts, err := loadAttempts(ctx, q, id)
	if err != nil {
		return nil, err
	}
	rec.ValidationAttempts = attempts
	return rec, nil
}

func scanRecord(sc rowScanner) (*engine.SolutionRecord, error) {
	var (
		rec             engine.SolutionRecord
		resources       string
		stageAnswers    string
		completedStages string
		generatingSince sql.NullTime
		deployment      sql.NullString
	)
	err := sc.Scan(
		&rec.ID, &rec.Intent, &resources, &stageAnswers, &completedStages,
		&rec.CurrentStage, &rec.Status, &rec.ManifestText, &rec.Generation,
		&generatingSince, &deployment, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, engine.NewPersistenceError("failed to scan solution", err)
	}

	if err := json.Unmarshal([]byte(resources), &rec.Resources); err != nil {
		return nil, corrupt(rec.ID, "resources", err)
	}
	if err := json.Unmarshal([]byte(stageAnswers), &rec.StageAnswers); err != nil {
		return nil, corrupt(rec.ID, "stage_answers", err)
	}
	if rec.StageAnswers == nil {
		rec.StageAnswers = make(map[engine.Stage]engine.Answers)
	}
	if err := json.Unmarshal([]byte(completedStages), &rec.CompletedStages); err != nil {
		return nil, corrupt(rec.ID, "completed_stages", err)
	}
	if generatingSince.Valid {
		t := generatingSince.Time
		rec.GeneratingSince = &t
	}
	if deployment.Valid {
		var d engine.DeployResult
		if err := json.Unmarshal([]byte(deployment.String), &d); err != nil {
			return nil, corrupt(rec.ID, "deployment", err)
		}
		rec.Deployment = &d
	}
	return &rec, nil
}

func corrupt(id, column string, err error) error {
	return engine.NewPermanentError(fmt.Sprintf("stored %s could not be decoded", column), err).
		WithSolution(id).
		WithCode(engine.ErrCodeInternal)
}

func loadAttempts(ctx context.Context, q queryer, id string) ([]engine.ValidationAttempt, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, generation, attempt_number, manifest_text, outcome, error_detail, error_class, created_at
		FROM validation_attempts
		WHERE solution_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, engine.NewPersistenceError("failed to load validation attempts", err).WithSolution(id)
	}
	defer rows.Close()

	var attempts []engine.ValidationAttempt
	for rows.Next() {
		var a engine.ValidationAttempt
		if err := rows.Scan(&a.ID, &a.Generation, &a.AttemptNumber, &a.ManifestText, &a.Outcome, &a.ErrorDetail, &a.ErrorClass, &a.CreatedAt); err != nil {
			return nil, engine.NewPersistenceError("failed to scan validation attempt", err).WithSolution(id)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewPersistenceError("failed to iterate validation attempts", err).WithSolution(id)
	}
	return attempts, nil
}

func insertAttempt(ctx context.Context, tx *sql.Tx, solutionID string, seq int, a engine.ValidationAttempt) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO validation_attempts
			(id, solution_id, seq, generation, attempt_number, manifest_text, outcome, error_detail, error_class, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, solutionID, seq, a.Generation, a.AttemptNumber, a.ManifestText, string(a.Outcome),
		a.ErrorDetail, string(a.ErrorClass), a.CreatedAt.UTC())
	if err != nil {
		return engine.NewPersistenceError("failed to record validation attempt", err).WithSolution(solutionID)
	}
	return nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, rec *engine.SolutionRecord, action string, details *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit (solution_id, action, version, status, stage, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, action, rec.Version, string(rec.Status), string(rec.CurrentStage), details, rec.UpdatedAt.UTC())
	if err != nil {
		return engine.NewPersistenceError("failed to write audit entry", err).WithSolution(rec.ID)
	}
	return nil
}

// solutionRow is the column encoding of a SolutionRecord.
type solutionRow struct {
	id              string
	intent          string
	resources       string
	stageAnswers    string
	completedStages string
	currentStage    string
	status          string
	manifestText    string
	generation      int
	generatingSince sql.NullTime
	deployment      sql.NullString
	version         int64
	createdAt       time.Time
	updatedAt       time.Time
}

func (r *solutionRow) args() []interface{} {
	return []interface{}{
		r.id, r.intent, r.resources, r.stageAnswers, r.completedStages, r.currentStage, r.status,
		r.manifestText, r.generation, r.generatingSince, r.deployment, r.version, r.createdAt, r.updatedAt,
	}
}

func encodeRecord(rec *engine.SolutionRecord) (*solutionRow, error) {
	resources, err := json.Marshal(rec.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resources: %w", err)
	}
	answers := rec.StageAnswers
	if answers == nil {
		answers = map[engine.Stage]engine.Answers{}
	}
	stageAnswers, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage answers: %w", err)
	}
	completed := rec.CompletedStages
	if completed == nil {
		completed = []engine.Stage{}
	}
	completedStages, err := json.Marshal(completed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completed stages: %w", err)
	}

	row := &solutionRow{
		id:              rec.ID,
		intent:          rec.Intent,
		resources:       string(resources),
		stageAnswers:    string(stageAnswers),
		completedStages: string(completedStages),
		currentStage:    string(rec.CurrentStage),
		status:          string(rec.Status),
		manifestText:    rec.ManifestText,
		generation:      rec.Generation,
		version:         rec.Version,
		createdAt:       rec.CreatedAt.UTC(),
		updatedAt:       rec.UpdatedAt.UTC(),
	}
	if rec.GeneratingSince != nil {
		row.generatingSince = sql.NullTime{Time: rec.GeneratingSince.UTC(), Valid: true}
	}
	if rec.Deployment != nil {
		raw, err := json.Marshal(rec.Deployment)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal deployment: %w", err)
		}
		row.deployment = sql.NullString{String: string(raw), Valid: true}
	}
	return row, nil
}
