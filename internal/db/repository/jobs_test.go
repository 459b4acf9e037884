package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"millq/internal/db"
	"millq/internal/domain"
)

const testBaseURL = "http://tap.example.org/async"

func newTestJob(id string) *domain.JobRecord {
	return &domain.JobRecord{
		ID:      id,
		BaseURL: testBaseURL,
		JobURL:  testBaseURL + "/" + id,
		Query:   "SELECT TOP 10 * FROM MPAHaloTrees..MHalo",
		Lang:    "SQL",
		Format:  "csv",
		MaxRec:  100000,
	}
}

func TestJobRepo_Lifecycle(t *testing.T) {
	t.Parallel()

	repo := NewJobRepo(db.OpenTestSQLite(t))
	ctx := context.Background()

	created, err := repo.Record(ctx, newTestJob("1455786"))
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePending, created.Phase)
	assert.Equal(t, testBaseURL+"/1455786", created.JobURL)
	assert.Nil(t, created.ErrorMessage)
	assert.False(t, created.CreatedAt.IsZero())

	msg := "syntax error"
	require.NoError(t, repo.UpdatePhase(ctx, testBaseURL, "1455786", domain.PhaseError, &msg))
	require.NoError(t, repo.SetResultPath(ctx, testBaseURL, "1455786", "/tmp/halos.csv"))

	loaded, err := repo.Get(ctx, testBaseURL, "1455786")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseError, loaded.Phase)
	require.NotNil(t, loaded.ErrorMessage)
	assert.Equal(t, "syntax error", *loaded.ErrorMessage)
	require.NotNil(t, loaded.ResultPath)
	assert.Equal(t, "/tmp/halos.csv", *loaded.ResultPath)

	require.NoError(t, repo.Delete(ctx, testBaseURL, "1455786"))

	_, err = repo.Get(ctx, testBaseURL, "1455786")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestJobRepo_RecordTwiceKeepsPhase(t *testing.T) {
	t.Parallel()

	repo := NewJobRepo(db.OpenTestSQLite(t))
	ctx := context.Background()

	_, err := repo.Record(ctx, newTestJob("7"))
	require.NoError(t, err)
	require.NoError(t, repo.UpdatePhase(ctx, testBaseURL, "7", domain.PhaseExecuting, nil))

	again := newTestJob("7")
	again.Query = "SELECT 1"
	rec, err := repo.Record(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", rec.Query)
	assert.Equal(t, domain.PhaseExecuting, rec.Phase)
}

func TestJobRepo_List(t *testing.T) {
	t.Parallel()

	repo := NewJobRepo(db.OpenTestSQLite(t))
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		_, err := repo.Record(ctx, newTestJob(id))
		require.NoError(t, err)
	}
	other := newTestJob("9")
	other.BaseURL = "http://other.example.org/async"
	_, err := repo.Record(ctx, other)
	require.NoError(t, err)

	all, err := repo.List(ctx, testBaseURL, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID)
	assert.Equal(t, "1", all[2].ID)

	limited, err := repo.List(ctx, testBaseURL, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestJobRepo_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewJobRepo(db.OpenTestSQLite(t))
	ctx := context.Background()

	var notFound *domain.NotFoundError
	require.ErrorAs(t, repo.UpdatePhase(ctx, testBaseURL, "missing", domain.PhaseCompleted, nil), &notFound)
	require.ErrorAs(t, repo.SetResultPath(ctx, testBaseURL, "missing", "/x"), &notFound)
	require.ErrorAs(t, repo.Delete(ctx, testBaseURL, "missing"), &notFound)

	_, err := repo.Record(ctx, &domain.JobRecord{})
	var usageErr *domain.UsageError
	require.ErrorAs(t, err, &usageErr)
}
