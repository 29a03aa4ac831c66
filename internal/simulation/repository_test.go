package simulation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/horizon/internal/database"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "runs.db"),
		Profile: database.ProfileLedger,
		Name:    "runs",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewRepository(db, zerolog.Nop())
	require.NoError(t, err)
	return repo
}

func TestRepositoryArchivesRun(t *testing.T) {
	repo := testRepo(t)

	scn := accumulationScenario()
	opts := Options{Trials: 4, Seed: 7, KeepPaths: true}
	r := NewRunner(scn, testSchedule(t, scn), opts, zerolog.Nop())
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	id, err := repo.SaveRun("scenario-1", opts, res)
	require.NoError(t, err)

	stored, err := repo.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "scenario-1", stored.ScenarioID)
	assert.Equal(t, 4, stored.Trials)
	assert.Equal(t, uint64(7), stored.Seed)
	assert.Equal(t, res.Summary, stored.Summary)

	trials, err := repo.GetTrials(id)
	require.NoError(t, err)
	require.Len(t, trials, 4)
	for i, tr := range trials {
		assert.Equal(t, i, tr.Trial)
		assert.InDelta(t, res.Trials[i].FinalValue, tr.FinalValue, 1e-9)
		// Traces survive the msgpack round trip.
		require.Len(t, tr.Months, scn.Months)
		assert.Equal(t, res.Trials[i].Months[0].PortfolioValue, tr.Months[0].PortfolioValue)
	}

	runs, err := repo.ListRuns("scenario-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)

	none, err := repo.ListRuns("other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepositoryMissingRun(t *testing.T) {
	repo := testRepo(t)

	_, err := repo.GetRun("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = repo.GetTrials("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
