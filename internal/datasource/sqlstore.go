package datasource

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/internal/acmi"
	"github.com/signalsfoundry/flight-replay/internal/logging"
	"github.com/signalsfoundry/flight-replay/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Parse job states.
const (
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// SQLStore serves sorties from the relational schema (sorties, objects,
// telemetry, parse_jobs). SQLite files are migrated on open; Postgres
// databases get the equivalent tables created if missing.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	log     logging.Logger
}

// ParseJob records one import of a recording into the store.
type ParseJob struct {
	ID          string
	SortieID    string
	FileName    string
	Status      string
	ProgressPct float64
	Error       string
}

// ImportResult describes a completed import.
type ImportResult struct {
	SortieID string
	JobID    string
	Samples  int
}

// OpenSQLite opens (creating if needed) a SQLite database and applies the
// embedded migrations.
func OpenSQLite(ctx context.Context, dsn string, log logging.Logger) (*SQLStore, error) {
	if log == nil {
		log = logging.Noop()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	// One connection keeps PRAGMAs in effect and avoids SQLITE_BUSY between
	// writers of the same file.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", dsn, err)
	}
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLStore{db: db, dialect: dialectSQLite, log: log}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info(ctx, "sqlite store ready", logging.String("dsn", dsn))
	return s, nil
}

// OpenPostgres connects to Postgres using a lib/pq connection string and
// ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string, log logging.Logger) (*SQLStore, error) {
	if log == nil {
		log = logging.Noop()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &SQLStore{db: db, dialect: dialectPostgres, log: log}
	if err := s.createPostgresTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info(ctx, "postgres store ready")
	return s, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{log: s.log}
	// m is not closed: that would close s.db as well.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version of a SQLite store.
func (s *SQLStore) SchemaVersion() (uint, bool, error) {
	if s.dialect != dialectSQLite {
		return 0, false, fmt.Errorf("schema versions are tracked for sqlite only")
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, false, err
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return 0, false, err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *SQLStore) createPostgresTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sorties (
			id SERIAL PRIMARY KEY,
			mission_name TEXT,
			pilot_name TEXT,
			aircraft_type TEXT,
			start_time TIMESTAMP DEFAULT NOW(),
			map_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS objects (
			id SERIAL PRIMARY KEY,
			sortie_id INTEGER REFERENCES sorties (id),
			obj_id TEXT,
			name TEXT,
			type TEXT,
			coalition TEXT,
			pilot TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS telemetry (
			id BIGSERIAL PRIMARY KEY,
			sortie_id INTEGER REFERENCES sorties (id),
			obj_id TEXT,
			time_offset DOUBLE PRECISION,
			lat DOUBLE PRECISION,
			lon DOUBLE PRECISION,
			alt DOUBLE PRECISION,
			roll DOUBLE PRECISION,
			pitch DOUBLE PRECISION,
			yaw DOUBLE PRECISION,
			ias DOUBLE PRECISION,
			mach DOUBLE PRECISION,
			g_force DOUBLE PRECISION,
			fuel_remaining DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_sortie ON telemetry (sortie_id, id)`,
		`CREATE TABLE IF NOT EXISTS parse_jobs (
			id TEXT PRIMARY KEY,
			sortie_id INTEGER REFERENCES sorties (id),
			file_name TEXT,
			status TEXT NOT NULL,
			progress_pct DOUBLE PRECISION DEFAULT 0,
			error TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create postgres tables: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders for the store's dialect.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ListSorties implements Source.
func (s *SQLStore) ListSorties(ctx context.Context) ([]model.SortieMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mission_name, pilot_name, aircraft_type, start_time, map_name
		FROM sorties
		ORDER BY id`)
	if err != nil {
		return nil, core.WrapSourceError("list sorties", "", err)
	}
	defer rows.Close()

	var out []model.SortieMeta
	for rows.Next() {
		var (
			id                                int64
			mission, pilot, aircraft, mapName sql.NullString
			start                             sql.NullString
		)
		if err := rows.Scan(&id, &mission, &pilot, &aircraft, &start, &mapName); err != nil {
			return nil, core.WrapSourceError("list sorties", "", err)
		}
		out = append(out, model.SortieMeta{
			ID:           strconv.FormatInt(id, 10),
			AircraftType: aircraft.String,
			MissionName:  mission.String,
			PilotName:    pilot.String,
			MapName:      mapName.String,
			StartTime:    start.String,
		}.Normalize())
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapSourceError("list sorties", "", err)
	}
	return out, nil
}

// Telemetry implements Source. Rows come back in insertion order; only the
// sortie's primary object is returned.
func (s *SQLStore) Telemetry(ctx context.Context, sortieID string) ([]model.RawSample, error) {
	const op = "fetch telemetry"
	id, err := strconv.ParseInt(strings.TrimSpace(sortieID), 10, 64)
	if err != nil {
		return nil, core.WrapSourceError(op, sortieID, core.ErrSortieNotFound)
	}

	var one int
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM sorties WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.WrapSourceError(op, sortieID, core.ErrSortieNotFound)
	}
	if err != nil {
		return nil, core.WrapSourceError(op, sortieID, err)
	}

	var primary sql.NullString
	err = s.db.QueryRowContext(ctx,
		s.rebind(`SELECT obj_id FROM objects WHERE sortie_id = ? ORDER BY id LIMIT 1`), id,
	).Scan(&primary)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, core.WrapSourceError(op, sortieID, err)
	}
	havePrimary := err == nil

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT obj_id, time_offset, lat, lon, alt, roll, pitch, yaw, ias, mach, g_force, fuel_remaining
		FROM telemetry
		WHERE sortie_id = ?
		ORDER BY id`), id)
	if err != nil {
		return nil, core.WrapSourceError(op, sortieID, err)
	}
	defer rows.Close()

	var out []model.RawSample
	for rows.Next() {
		var (
			objID                 sql.NullString
			offset, lat, lon, alt sql.NullFloat64
			roll, pitch, yaw      sql.NullFloat64
			ias, mach, g, fuel    sql.NullFloat64
		)
		if err := rows.Scan(&objID, &offset, &lat, &lon, &alt, &roll, &pitch, &yaw, &ias, &mach, &g, &fuel); err != nil {
			return nil, core.WrapSourceError(op, sortieID, err)
		}
		// Without an objects row the first telemetry row names the primary.
		if !havePrimary {
			primary, havePrimary = objID, true
		}
		if objID != primary {
			continue
		}
		out = append(out, model.RawSample{
			ObjectID:      objID.String,
			TimeOffset:    offset.Float64,
			Lat:           lat.Float64,
			Lon:           lon.Float64,
			Alt:           alt.Float64,
			IAS:           ias.Float64,
			GForce:        g.Float64,
			Roll:          nullable(roll),
			Pitch:         nullable(pitch),
			Yaw:           nullable(yaw),
			Mach:          nullable(mach),
			FuelRemaining: nullable(fuel),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapSourceError(op, sortieID, err)
	}
	return out, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return model.Float64(v.Float64)
}

// ImportRecording writes a parsed recording as a new sortie. The import is
// tracked as a parse job whose id is returned with the result.
func (s *SQLStore) ImportRecording(ctx context.Context, rec *acmi.Recording, fileName string) (ImportResult, error) {
	jobID := uuid.NewString()
	log := s.log.With(logging.String("job_id", jobID), logging.String("file", fileName))

	if _, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO parse_jobs (id, file_name, status, progress_pct) VALUES (?, ?, ?, 0)`),
		jobID, fileName, JobRunning,
	); err != nil {
		return ImportResult{}, fmt.Errorf("create parse job: %w", err)
	}

	sortieID, err := s.importTx(ctx, rec)
	if err != nil {
		if _, uerr := s.db.ExecContext(context.WithoutCancel(ctx),
			s.rebind(`UPDATE parse_jobs SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`),
			JobFailed, err.Error(), jobID,
		); uerr != nil {
			log.Warn(ctx, "failed to mark parse job failed", logging.Err(uerr))
		}
		log.Error(ctx, "import failed", logging.Err(err))
		return ImportResult{JobID: jobID}, err
	}

	if _, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE parse_jobs SET status = ?, sortie_id = ?, progress_pct = 100, updated_at = CURRENT_TIMESTAMP WHERE id = ?`),
		JobDone, sortieID, jobID,
	); err != nil {
		return ImportResult{}, fmt.Errorf("complete parse job: %w", err)
	}

	res := ImportResult{SortieID: strconv.FormatInt(sortieID, 10), JobID: jobID, Samples: len(rec.Samples)}
	log.Info(ctx, "imported recording",
		logging.String("sortie_id", res.SortieID),
		logging.Int("samples", res.Samples),
	)
	return res, nil
}

func (s *SQLStore) importTx(ctx context.Context, rec *acmi.Recording) (int64, error) {
	meta := rec.Meta("")
	var start any
	if meta.StartTime != "" {
		t, err := core.ParseStartTime(meta.StartTime)
		if err != nil {
			return 0, err
		}
		start = t.UTC().Format(time.RFC3339Nano)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var sortieID int64
	const insertSortie = `INSERT INTO sorties (mission_name, pilot_name, aircraft_type, start_time, map_name)
		VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?)`
	if s.dialect == dialectPostgres {
		err = tx.QueryRowContext(ctx, s.rebind(insertSortie+` RETURNING id`),
			meta.MissionName, meta.PilotName, meta.AircraftType, start, meta.MapName,
		).Scan(&sortieID)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, insertSortie,
			meta.MissionName, meta.PilotName, meta.AircraftType, start, meta.MapName)
		if err == nil {
			sortieID, err = res.LastInsertId()
		}
	}
	if err != nil {
		return 0, fmt.Errorf("insert sortie: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO objects (sortie_id, obj_id, name, type, coalition, pilot) VALUES (?, ?, ?, ?, ?, ?)`),
		sortieID, rec.ObjectID, rec.AircraftType, rec.AircraftType, rec.Coalition, rec.Pilot,
	); err != nil {
		return 0, fmt.Errorf("insert object: %w", err)
	}

	if err := s.insertTelemetry(ctx, tx, sortieID, rec.Samples); err != nil {
		return 0, fmt.Errorf("insert telemetry: %w", err)
	}
	return sortieID, tx.Commit()
}

var telemetryColumns = []string{
	"sortie_id", "obj_id", "time_offset", "lat", "lon", "alt",
	"roll", "pitch", "yaw", "ias", "mach", "g_force", "fuel_remaining",
}

func (s *SQLStore) insertTelemetry(ctx context.Context, tx *sql.Tx, sortieID int64, samples []model.RawSample) error {
	var query string
	if s.dialect == dialectPostgres {
		query = pq.CopyIn("telemetry", telemetryColumns...)
	} else {
		query = `INSERT INTO telemetry (` + strings.Join(telemetryColumns, ", ") + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range samples {
		if _, err := stmt.ExecContext(ctx,
			sortieID, r.ObjectID, r.TimeOffset, r.Lat, r.Lon, r.Alt,
			r.Roll, r.Pitch, r.Yaw, r.IAS, r.Mach, r.GForce, r.FuelRemaining,
		); err != nil {
			return err
		}
	}
	if s.dialect == dialectPostgres {
		// An argument-less Exec flushes the COPY buffer.
		if _, err := stmt.ExecContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Job returns a parse job by id.
func (s *SQLStore) Job(ctx context.Context, id string) (ParseJob, error) {
	var (
		job      ParseJob
		sortieID sql.NullInt64
		file     sql.NullString
		progress sql.NullFloat64
		msg      sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, sortie_id, file_name, status, progress_pct, error FROM parse_jobs WHERE id = ?`), id,
	).Scan(&job.ID, &sortieID, &file, &job.Status, &progress, &msg)
	if err != nil {
		return ParseJob{}, err
	}
	if sortieID.Valid {
		job.SortieID = strconv.FormatInt(sortieID.Int64, 10)
	}
	job.FileName = file.String
	job.ProgressPct = progress.Float64
	job.Error = msg.String
	return job, nil
}

// migrateLogger adapts logging.Logger to migrate.Logger.
type migrateLogger struct {
	log logging.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Info(context.Background(), "migrate: "+strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool { return false }
