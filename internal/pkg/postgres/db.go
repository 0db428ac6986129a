package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/persistence"
	"github.com/airenas/voxinsight/internal/pkg/status"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB provides operations with postgresql
type DB struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewDB creates DB instance
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	if pool == nil {
		return nil, fmt.Errorf("no pool")
	}
	return &DB{pool: pool, now: time.Now}, nil
}

const jobColumns = `id, external_id, owner_id, file_name, name, status, analysis_status,
	transcription_text, analysis_data, error, created, updated`

// InsertJob inserts job, repeated insert of the same ID is a no-op
func (db *DB) InsertJob(ctx context.Context, job *persistence.Job) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO jobs(id, external_id, owner_id, file_name, name, status, analysis_status, created, updated)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $8) ON CONFLICT (id) DO NOTHING`, job.ID, job.ExternalID, job.OwnerID,
		job.FileName, job.Name, job.Status, job.AnalysisStatus, job.Created)
	if err != nil {
		return fmt.Errorf("can't insert job: %w", err)
	}
	return nil
}

// LoadJob loads job by ID, returns nil if no job
func (db *DB) LoadJob(ctx context.Context, id string) (*persistence.Job, error) {
	return db.loadOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
}

// FindByExternalID loads job by exact provider ID, returns nil if no job
func (db *DB) FindByExternalID(ctx context.Context, extID string) (*persistence.Job, error) {
	return db.loadOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE external_id = $1`, extID)
}

// FindByExternalIDFold loads job by case insensitive provider ID, returns nil if no job
func (db *DB) FindByExternalIDFold(ctx context.Context, extID string) (*persistence.Job, error) {
	return db.loadOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE lower(external_id) = lower($1)
	ORDER BY created DESC LIMIT 1`, extID)
}

// FindLatestUnresolved returns the most recent not terminal job of the owner.
// Jobs without provider ID are preferred. Empty owner matches nothing
func (db *DB) FindLatestUnresolved(ctx context.Context, owner string) (*persistence.Job, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, nil
	}
	return db.loadOne(ctx, `SELECT `+jobColumns+` FROM jobs
	WHERE status = $1 AND owner_id = $2
	ORDER BY (external_id IS NULL) DESC, created DESC LIMIT 1`, status.Processing.String(), owner)
}

// SetExternalID stores provider ID if the job has none yet or has the same one
func (db *DB) SetExternalID(ctx context.Context, id, extID string) error {
	res, err := db.pool.Exec(ctx, `UPDATE jobs SET external_id = $2, updated = $3
	WHERE id = $1 AND (external_id IS NULL OR external_id = $2)`, id, extID, db.now())
	if err != nil {
		return fmt.Errorf("can't set external ID: %w", err)
	}
	if res.RowsAffected() != 1 {
		return fmt.Errorf("can't set external ID, no record %s without external ID", id)
	}
	return nil
}

// BindExternalID overwrites provider ID of a not terminal job, returns false if job is terminal
func (db *DB) BindExternalID(ctx context.Context, id, extID string) (bool, error) {
	res, err := db.pool.Exec(ctx, `UPDATE jobs SET external_id = $2, updated = $3
	WHERE id = $1 AND status = $4`, id, extID, db.now(), status.Processing.String())
	if err != nil {
		return false, fmt.Errorf("can't bind external ID: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

// ApplyStatus moves a processing job to a terminal status.
// Returns false if the job is already terminal
func (db *DB) ApplyStatus(ctx context.Context, id string, st status.Status, text, errStr string) (bool, error) {
	if !status.CanTransition(status.Processing, st) {
		return false, fmt.Errorf("wrong target status %s", st.String())
	}
	res, err := db.pool.Exec(ctx, `UPDATE jobs SET status = $2, transcription_text = $3, error = $4, updated = $5
	WHERE id = $1 AND status = $6`, id, st.String(), utils.ToSQLStr(text), utils.ToSQLStr(errStr), db.now(), status.Processing.String())
	if err != nil {
		return false, fmt.Errorf("can't update status: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

// StartAnalysis moves analysis from pending to processing for a completed job.
// Returns false if the analysis was already started or the job is not completed
func (db *DB) StartAnalysis(ctx context.Context, id string) (bool, error) {
	res, err := db.pool.Exec(ctx, `UPDATE jobs SET analysis_status = $2, updated = $3
	WHERE id = $1 AND status = $4 AND analysis_status = $5`, id, status.AnalysisProcessing.String(), db.now(),
		status.Completed.String(), status.AnalysisPending.String())
	if err != nil {
		return false, fmt.Errorf("can't start analysis: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

// FinishAnalysis moves analysis from processing to a terminal status.
// Returns false if the analysis is not in processing
func (db *DB) FinishAnalysis(ctx context.Context, id string, st status.AnalysisStatus, data *persistence.AnalysisData, errStr string) (bool, error) {
	if !status.CanTransitionAnalysis(status.Completed, status.AnalysisProcessing, st) {
		return false, fmt.Errorf("wrong target analysis status %s", st.String())
	}
	res, err := db.pool.Exec(ctx, `UPDATE jobs SET analysis_status = $2, analysis_data = $3, error = COALESCE($4, error), updated = $5
	WHERE id = $1 AND analysis_status = $6`, id, st.String(), data, utils.ToSQLStr(errStr), db.now(),
		status.AnalysisProcessing.String())
	if err != nil {
		return false, fmt.Errorf("can't finish analysis: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

// Live returns no error if db is reachable and initialized
func (db *DB) Live(ctx context.Context) error {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT FROM pg_tables WHERE tablename = 'jobs')`).Scan(&exists); err != nil {
		return fmt.Errorf("can't check table: %w", err)
	}
	if !exists {
		return fmt.Errorf("no migration done")
	}
	return nil
}

// Migrate creates gue and job tables if they are missing
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("can't read migrations: %w", err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name())
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := migrations.ReadFile("migrations/" + n)
		if err != nil {
			return fmt.Errorf("can't read %s: %w", n, err)
		}
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("can't apply %s: %w", n, err)
		}
		goapp.Log.Info().Str("file", n).Msg("applied migration")
	}
	return nil
}

func (db *DB) loadOne(ctx context.Context, sql string, args ...interface{}) (*persistence.Job, error) {
	var res persistence.Job
	err := db.pool.QueryRow(ctx, sql, args...).Scan(&res.ID, &res.ExternalID, &res.OwnerID, &res.FileName, &res.Name,
		&res.Status, &res.AnalysisStatus, &res.TranscriptionText, &res.AnalysisData, &res.Error, &res.Created, &res.Updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load job: %w", err)
	}
	return &res, nil
}
