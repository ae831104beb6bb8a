package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/lox/soilclimate/internal/assign"
	"github.com/lox/soilclimate/internal/export"
	"github.com/lox/soilclimate/internal/impute"
	"github.com/lox/soilclimate/internal/models"
)

type InventoryCmd struct {
	Quiet bool `help:"Only log the summary, do not list stations."`
}

func (c *InventoryCmd) Run(a *app) error {
	stations, err := a.loadStations()
	if err != nil {
		return err
	}
	if c.Quiet {
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPROVINCE\tLAT\tLON\tACTIVE")
	for _, st := range stations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.4f\t%t\n",
			st.ID, st.Name, st.Province, st.Latitude, st.Longitude, st.ActiveDuring(a.g.Year))
	}
	return tw.Flush()
}

type AssignCmd struct {
	Profiles string `arg:"" type:"existingfile" help:"CSV of soil profiles (profile_id, lat, lon)."`
}

func (c *AssignCmd) Run(a *app) error {
	assignments, err := assignProfiles(a, c.Profiles)
	if err != nil {
		return err
	}
	return writeOutput(a, export.AssignmentsFile, func(w io.Writer) error {
		return export.WriteAssignments(w, assignments)
	})
}

type RunCmd struct {
	Profiles string `arg:"" type:"existingfile" help:"CSV of soil profiles (profile_id, lat, lon)."`
}

func (c *RunCmd) Run(a *app) error {
	if err := a.requireAPIKey(); err != nil {
		return err
	}
	assignments, err := assignProfiles(a, c.Profiles)
	if err != nil {
		return err
	}
	if err := writeOutput(a, export.AssignmentsFile, func(w io.Writer) error {
		return export.WriteAssignments(w, assignments)
	}); err != nil {
		return err
	}

	ledger, err := a.openLedger()
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	res, err := a.collector(ledger).Collect(a.ctx, assign.StationIDs(assignments))
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	raw := res.All()
	imputed, report := impute.Impute(raw)
	a.logger.Info("imputation finished",
		"station_month", report.Filled[impute.LevelStationMonth],
		"station", report.Filled[impute.LevelStation],
		"global", report.Filled[impute.LevelGlobal],
	)
	for field, n := range report.Unfilled {
		a.logger.Warn("field could not be imputed", "field", field, "values", n)
	}

	tables := []struct {
		name    string
		records []models.DailyRecord
		profile bool
	}{
		{export.StationClimateFile, raw, false},
		{export.StationClimateImputed, imputed, false},
		{export.ProfileClimateFile, raw, true},
		{export.ProfileClimateImputed, imputed, true},
	}
	for _, t := range tables {
		err := writeOutput(a, t.name, func(w io.Writer) error {
			if t.profile {
				return export.WriteProfileClimate(w, assignments, export.GroupByStation(t.records))
			}
			return export.WriteStationClimate(w, t.records)
		})
		if err != nil {
			return err
		}
	}

	a.logger.Info("run complete",
		"profiles", len(assignments),
		"stations", len(res.Stations),
		"records", len(raw),
		"done", res.Done,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"output_dir", a.g.OutputDir,
	)
	return nil
}

type StatusCmd struct {
	Errors int `default:"10" help:"Number of recent ingest failures to show."`
}

func (c *StatusCmd) Run(a *app) error {
	ledger, err := a.openLedger()
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	done, failed := ledger.Counts()
	version, err := a.store.MigrationVersion()
	if err != nil {
		return err
	}
	stats, err := a.store.GetCacheStats()
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}

	fmt.Printf("year:            %d\n", a.g.Year)
	fmt.Printf("ledger (%s):   %d done, %d failed\n", a.g.Ledger, done, failed)
	fmt.Printf("schema version:  %d\n", version)
	fmt.Printf("sqlite cache:    %d entries, %s raw, %s stored\n",
		stats.Entries, humanize.Bytes(uint64(stats.RawBytes)), humanize.Bytes(uint64(stats.CompressedBytes)))

	runs, err := a.store.GetRecentIngestErrors(c.Errors)
	if err != nil {
		return fmt.Errorf("recent errors: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}
	fmt.Println("recent failures:")
	for _, r := range runs {
		msg := ""
		if r.ErrorMessage.Valid {
			msg = r.ErrorMessage.String
		}
		fmt.Printf("  %s  %s/%d  %s\n", r.StartedAt.Format("2006-01-02 15:04"), r.StationID.String, r.Year.Int64, msg)
	}
	return nil
}

func assignProfiles(a *app, path string) ([]models.Assignment, error) {
	profiles, err := export.ReadProfilesFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	stations, err := a.loadStations()
	if err != nil {
		return nil, err
	}
	return assign.New(a.logger).Assign(profiles, stations, a.g.Year)
}

func writeOutput(a *app, name string, write func(io.Writer) error) error {
	path := filepath.Join(a.g.OutputDir, name)
	if err := export.WriteFile(path, write); err != nil {
		return err
	}
	a.logger.Info("wrote table", "path", path)
	return nil
}
