package store

import (
	"database/sql"
	"time"
)

// IngestRun is the audit row for one station-year download attempt.
type IngestRun struct {
	ID            int64
	RunID         string // shared by every station fetched in one collector pass
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	Source        string // "aemet"
	Endpoint      string // "climatologicos/diarios"
	StationID     sql.NullString
	Year          sql.NullInt64
	RecordsParsed sql.NullInt64
	QualityFlags  sql.NullInt64
	Success       bool
	ErrorMessage  sql.NullString
}

// StartIngestRun inserts an in-progress audit row.
func (s *Store) StartIngestRun(runID, source, endpoint, stationID string, year int) (*IngestRun, error) {
	run := &IngestRun{
		RunID:     runID,
		StartedAt: s.clock.Now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
		StationID: sql.NullString{String: stationID, Valid: stationID != ""},
		Year:      sql.NullInt64{Int64: int64(year), Valid: year != 0},
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (run_id, started_at, source, endpoint, station_id, year, success)
		VALUES (?, ?, ?, ?, ?, ?, FALSE)
	`, run.RunID, run.StartedAt, run.Source, run.Endpoint, run.StationID, run.Year)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteIngestRun records the outcome of a run started with StartIngestRun.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: s.clock.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			records_parsed = ?,
			quality_flags = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RecordsParsed, run.QualityFlags, run.Success, run.ErrorMessage, run.ID)
	return err
}

// IngestSummary aggregates audit rows for one collector pass or, when runID
// is empty, for every pass.
type IngestSummary struct {
	TotalRuns    int
	SuccessRuns  int
	FailedRuns   int
	TotalRecords int64
}

func (s *Store) GetIngestSummary(runID string) (IngestSummary, error) {
	var sum IngestSummary
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN NOT success THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(records_parsed), 0)
		FROM ingest_runs
		WHERE ? = '' OR run_id = ?
	`, runID, runID).Scan(&sum.TotalRuns, &sum.SuccessRuns, &sum.FailedRuns, &sum.TotalRecords)
	return sum, err
}

// GetRecentIngestErrors returns the latest failed runs, newest first.
func (s *Store) GetRecentIngestErrors(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, started_at, finished_at, source, endpoint, station_id, year,
		       records_parsed, quality_flags, success, error_message
		FROM ingest_runs
		WHERE success = FALSE AND finished_at IS NOT NULL
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.RunID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint,
			&r.StationID, &r.Year, &r.RecordsParsed, &r.QualityFlags, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
