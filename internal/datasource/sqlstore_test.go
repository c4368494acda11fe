package datasource

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/internal/acmi"
)

const testRecording = `0,ReferenceTime=2026-02-01T10:00:00Z
0,MissionTitle=Test_Unit
0,RecordingPlayerName=Viper
#0.00
1,T=10|20|30|0|5|90,Name=Test_Jet,IAS=100
2,T=11|21|0,Name=Tanker
#1.00
1,T=10.1|20.1|40,Mach=0.7
2,T=11.1||
#2.00
1,T=10.2|20.2|50
`

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "replay.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteMigratesOnOpen(t *testing.T) {
	store := openTestStore(t)

	version, dirty, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	list, err := store.ListSorties(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLiteReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.db")
	first, err := OpenSQLite(context.Background(), path, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(context.Background(), path, nil)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestImportRecordingRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec, err := acmi.Parse(strings.NewReader(testRecording))
	require.NoError(t, err)

	res, err := store.ImportRecording(ctx, rec, "test.acmi")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Samples)
	assert.NotEmpty(t, res.JobID)

	job, err := store.Job(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobDone, job.Status)
	assert.Equal(t, res.SortieID, job.SortieID)
	assert.Equal(t, 100.0, job.ProgressPct)

	list, err := store.ListSorties(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.SortieID, list[0].ID)
	assert.Equal(t, "Test_Unit", list[0].MissionName)
	assert.Equal(t, "Test_Jet", list[0].AircraftType)
	assert.Equal(t, "Viper", list[0].PilotName)

	start, err := core.ParseStartTime(list[0].StartTime)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01T10:00:00Z", start.Format("2006-01-02T15:04:05Z07:00"))

	samples, err := store.Telemetry(ctx, res.SortieID)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	for i, s := range samples {
		assert.Equal(t, "1", s.ObjectID, "sample %d", i)
		assert.Equal(t, float64(i), s.TimeOffset, "sample %d", i)
	}
	require.NotNil(t, samples[1].Mach)
	assert.Equal(t, 0.7, *samples[1].Mach)
	require.NotNil(t, samples[0].Yaw)
	assert.Equal(t, 90.0, *samples[0].Yaw)

	track, err := core.LoadTrack(list[0], samples)
	require.NoError(t, err)
	assert.Equal(t, 2.0, track.LastOffset())
}

func TestSQLiteTelemetryNotFound(t *testing.T) {
	store := openTestStore(t)

	for _, id := range []string{"999", "not-a-number"} {
		_, err := store.Telemetry(context.Background(), id)
		require.Error(t, err, id)
		assert.ErrorIs(t, err, core.ErrSortieNotFound, id)
		assert.ErrorIs(t, err, core.ErrDataSource, id)
	}
}

func TestSQLiteTelemetryKeepsRecordedOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `INSERT INTO sorties (id, mission_name, start_time) VALUES (5, 'Bad', '2026-02-01 10:00:00')`)
	require.NoError(t, err)
	for _, off := range []float64{0, 5, 3} {
		_, err := store.db.ExecContext(ctx,
			`INSERT INTO telemetry (sortie_id, time_offset, lat, lon, alt, ias, g_force) VALUES (5, ?, 1, 2, 3, 4, 1)`, off)
		require.NoError(t, err)
	}

	samples, err := store.Telemetry(ctx, "5")
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, 3.0, samples[2].TimeOffset)
	assert.Nil(t, samples[0].Roll)

	list, err := store.ListSorties(ctx)
	require.NoError(t, err)
	_, err = core.LoadTrack(list[0], samples)
	assert.ErrorIs(t, err, core.ErrMalformedData)
}

func TestImportRecordingFailureMarksJob(t *testing.T) {
	store := openTestStore(t)
	rec := &acmi.Recording{ReferenceTime: "yesterday", ObjectID: "1"}

	res, err := store.ImportRecording(context.Background(), rec, "bad.acmi")
	require.Error(t, err)
	require.NotEmpty(t, res.JobID)

	job, err := store.Job(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, job.Status)
	assert.NotEmpty(t, job.Error)
}

func TestRebindForPostgres(t *testing.T) {
	s := &SQLStore{dialect: dialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	s = &SQLStore{dialect: dialectSQLite}
	assert.Equal(t, "x = ?", s.rebind("x = ?"))
}
