package db

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docutag/interlinker/models"
)

// setupTestDB connects to the database named by INTERLINKER_TEST_DSN and empties
// the run tables. Tests skip when it is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("INTERLINKER_TEST_DSN")
	if dsn == "" {
		t.Skip("INTERLINKER_TEST_DSN not set")
	}

	db, err := New(Config{DSN: dsn})
	require.NoError(t, err)
	_, err = db.DB().Exec("TRUNCATE interlinker_edits, interlinker_runs")
	require.NoError(t, err)
	return db
}

func testRun(id, principal string, created time.Time, targets ...string) *models.RunResult {
	run := &models.RunResult{
		ID:           id,
		PrincipalURL: principal,
		Blocks:       []models.ContentBlock{{ID: "b:0:p:p[0]", Type: models.BlockParagraph, Text: "Trail running shoes"}},
		Rejected:     []models.Rejection{{URL: "https://example.com/x", Gate: "model_declined", Reason: "no fit"}},
		CreatedAt:    created,
	}
	for i, target := range targets {
		run.Edits = append(run.Edits, models.Edit{
			BlockID:   fmt.Sprintf("b:%d:p:p[%d]", i, i),
			TargetURL: target,
			Anchor:    "trail running shoes",
			Score:     0.5,
		})
	}
	run.Metrics.TotalLinks = len(run.Edits)
	return run
}

func TestMigrationsAreOrderedAndUnique(t *testing.T) {
	seen := map[int]bool{}
	prev := 0
	for _, m := range sortedMigrations() {
		assert.False(t, seen[m.Version], "duplicate version %d", m.Version)
		seen[m.Version] = true
		assert.Greater(t, m.Version, prev)
		prev = m.Version
		assert.NotEmpty(t, m.Up, m.Name)
		assert.NotEmpty(t, m.Down, m.Name)
	}
	assert.Equal(t, len(postgresMigrations), len(seen))
}

func TestRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	run := testRun("run-1", "https://example.com/article", now, "https://example.com/shoes", "https://example.com/vests")
	require.NoError(t, db.SaveRun(run))

	got, err := db.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, run.PrincipalURL, got.PrincipalURL)
	assert.Len(t, got.Edits, 2)
	assert.Len(t, got.Rejected, 1)

	missing, err := db.GetRun("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	count, err := db.CountRuns()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, db.SetViewsPath("run-1", "runs/run-1"))
	list, err := db.ListRuns(10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].TotalLinks)
	assert.Equal(t, 1, list[0].Rejected)
	assert.Equal(t, "runs/run-1", list[0].ViewsPath)

	require.NoError(t, db.DeleteRun("run-1"))
	assert.ErrorIs(t, db.DeleteRun("run-1"), ErrNotFound)
	assert.ErrorIs(t, db.SetViewsPath("run-1", "x"), ErrNotFound)

	links, err := db.LinksToURL("https://example.com/shoes")
	require.NoError(t, err)
	assert.Empty(t, links, "edits cascade with their run")
}

func TestSaveRunReplacesEdits(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	now := time.Now().UTC()
	require.NoError(t, db.SaveRun(testRun("run-1", "https://example.com/a", now, "https://example.com/shoes")))
	require.NoError(t, db.SaveRun(testRun("run-1", "https://example.com/a", now, "https://example.com/vests")))

	shoes, err := db.LinksToURL("https://example.com/shoes")
	require.NoError(t, err)
	assert.Empty(t, shoes)

	vests, err := db.LinksToURL("https://example.com/vests")
	require.NoError(t, err)
	require.Len(t, vests, 1)
	assert.Equal(t, "https://example.com/a", vests[0].PrincipalURL)
}

func TestLatestRunAndStats(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	base := time.Now().UTC()
	require.NoError(t, db.SaveRun(testRun("old", "https://example.com/a", base.Add(-time.Hour), "https://example.com/x")))
	require.NoError(t, db.SaveRun(testRun("new", "https://example.com/a", base, "https://example.com/x", "https://example.com/y")))
	require.NoError(t, db.SaveRun(testRun("other", "https://example.com/b", base)))

	latest, err := db.LatestRunForURL("https://example.com/a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "new", latest.ID)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRuns)
	assert.Equal(t, 3, stats.TotalLinks)
	assert.Equal(t, 2, stats.DistinctPages)
	assert.InDelta(t, 1.0, stats.AvgLinksPerRun, 1e-9)
}

func TestMigrateRollbackAndStatus(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := t.Context()

	applied, err := Migrate(ctx, db.DB())
	require.NoError(t, err)
	assert.Zero(t, applied, "New already migrated")

	all := sortedMigrations()
	latest := all[len(all)-1]

	reverted, err := Rollback(ctx, db.DB(), 1)
	require.NoError(t, err)
	require.Len(t, reverted, 1)
	assert.Equal(t, latest.Version, reverted[0].Version)

	status, err := GetMigrationStatus(ctx, db.DB())
	require.NoError(t, err)
	require.Len(t, status, len(all))
	for _, s := range status {
		if s.Version == latest.Version {
			assert.False(t, s.Applied)
			assert.Nil(t, s.AppliedAt)
			continue
		}
		assert.True(t, s.Applied, s.Name)
		assert.NotNil(t, s.AppliedAt)
	}

	applied, err = Migrate(ctx, db.DB())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}
