package repository

import (
	"context"
	"database/sql"
	"time"

	"millq/internal/domain"
)

// JobRepo records submitted jobs so they can be re-attached later.
type JobRepo struct {
	db *sql.DB
}

// NewJobRepo creates a new JobRepo.
func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{db: db}
}

const jobColumns = `id, base_url, job_url, query_text, lang, format, maxrec, phase,
		       error_message, result_path, created_at, updated_at`

// Record inserts a job, or refreshes the submission fields of a known one.
func (r *JobRepo) Record(ctx context.Context, job *domain.JobRecord) (*domain.JobRecord, error) {
	if job == nil || job.ID == "" || job.BaseURL == "" {
		return nil, domain.ErrUsage("job id and base url are required")
	}
	phase := job.Phase
	if phase == "" {
		phase = domain.PhasePending
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, base_url, job_url, query_text, lang, format, maxrec, phase)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (base_url, id) DO UPDATE SET
			job_url = excluded.job_url,
			query_text = excluded.query_text,
			lang = excluded.lang,
			format = excluded.format,
			maxrec = excluded.maxrec,
			updated_at = CURRENT_TIMESTAMP
	`, job.ID, job.BaseURL, job.JobURL, job.Query, job.Lang, job.Format, job.MaxRec, string(phase))
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.Get(ctx, job.BaseURL, job.ID)
}

// Get returns a job by service URL and ID.
func (r *JobRepo) Get(ctx context.Context, baseURL, id string) (*domain.JobRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE base_url = ? AND id = ?`, baseURL, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, mapNotFound(err, "job %q not found", id)
	}
	return job, nil
}

// List returns the most recently created jobs for a service, newest first.
// A limit of zero or less returns all jobs.
func (r *JobRepo) List(ctx context.Context, baseURL string, limit int) ([]*domain.JobRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs WHERE base_url = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, baseURL, limit)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	jobs := make([]*domain.JobRecord, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdatePhase stores the last observed phase and error message.
func (r *JobRepo) UpdatePhase(ctx context.Context, baseURL, id string, phase domain.Phase, errorMessage *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET phase = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE base_url = ? AND id = ?
	`, string(phase), errorMessage, baseURL, id)
	if err != nil {
		return mapDBError(err)
	}
	return requireAffected(res, "job %q not found", id)
}

// SetResultPath stores where the job's results were saved.
func (r *JobRepo) SetResultPath(ctx context.Context, baseURL, id, path string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET result_path = ?, updated_at = CURRENT_TIMESTAMP
		WHERE base_url = ? AND id = ?
	`, path, baseURL, id)
	if err != nil {
		return mapDBError(err)
	}
	return requireAffected(res, "job %q not found", id)
}

// Delete removes a job from the ledger. The server-side job is untouched.
func (r *JobRepo) Delete(ctx context.Context, baseURL, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE base_url = ? AND id = ?`, baseURL, id)
	if err != nil {
		return mapDBError(err)
	}
	return requireAffected(res, "job %q not found", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*domain.JobRecord, error) {
	var (
		job                  domain.JobRecord
		phase                string
		errorMessage         sql.NullString
		resultPath           sql.NullString
		createdAt, updatedAt time.Time
	)
	err := row.Scan(
		&job.ID,
		&job.BaseURL,
		&job.JobURL,
		&job.Query,
		&job.Lang,
		&job.Format,
		&job.MaxRec,
		&phase,
		&errorMessage,
		&resultPath,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Phase = domain.Phase(phase)
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt
	if errorMessage.Valid {
		msg := errorMessage.String
		job.ErrorMessage = &msg
	}
	if resultPath.Valid {
		p := resultPath.String
		job.ResultPath = &p
	}
	return &job, nil
}
