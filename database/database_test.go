package database

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/gewnthar/encwind/config"
	"github.com/gewnthar/encwind/models"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db.local", Port: "3307", User: "enc", Password: "p@ss", DBName: "encwind"})
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("ParseDSN(%q): %v", dsn, err)
	}
	if mc.Addr != "db.local:3307" || mc.User != "enc" || mc.Passwd != "p@ss" || mc.DBName != "encwind" || !mc.ParseTime {
		t.Errorf("unexpected config %+v", mc)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordDownload(context.Background(), models.ChartDownload{}); err != nil {
		t.Error(err)
	}
	if err := NewStore(nil).RecordPublishRun(context.Background(), models.PublishRun{}); err != nil {
		t.Error(err)
	}
	if _, err := NewStore(nil).RecentRuns(context.Background(), 5); err == nil {
		t.Error("expected an error reading from an unconfigured store")
	}
}

func TestSchemaStatements(t *testing.T) {
	if !strings.Contains(schema, "chart_downloads") || !strings.Contains(schema, "publish_runs") {
		t.Fatal("schema is missing audit tables")
	}
}

// TestStoreRoundTrip runs against a real server when ENCWIND_TEST_DSN is set.
func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("ENCWIND_TEST_DSN")
	if dsn == "" {
		t.Skip("ENCWIND_TEST_DSN not set")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatal(err)
	}

	s := NewStore(db)
	runID := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.RecordDownload(ctx, models.ChartDownload{RunID: runID, ChartName: "US4NY1BY.zip", SourceURL: "u", LocalPath: "p", Success: true, DownloadedAt: &now}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordPublishRun(ctx, models.PublishRun{RunID: runID, FeatureClass: "Wind_Turbines", Added: 3, Status: models.StatusSuccess, StartedAt: now, FinishedAt: &now}); err != nil {
		t.Fatal(err)
	}
	runs, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range runs {
		if r.RunID == runID && r.Added == 3 {
			found = true
		}
	}
	if !found {
		t.Errorf("run %s not returned", runID)
	}
	if _, err := s.LatestDownloads(ctx); err != nil {
		t.Fatal(err)
	}
}
