// models/meta.go
package models

import "time"

// ChartEdition holds the edition information scraped from the NOAA catalog page.
type ChartEdition struct {
	CellName   string // e.g. "US4NY1BY"
	Edition    string
	Update     string
	UpdateDate string // as printed on the catalog page
	RawRow     string
	CheckedAt  time.Time
}

// ChartDownload tracks one download attempt for the audit store.
type ChartDownload struct {
	ID           int64      `db:"id" json:"id"`
	RunID        string     `db:"run_id" json:"run_id"`
	ChartName    string     `db:"chart_name" json:"chart_name"`
	SourceURL    string     `db:"source_url" json:"source_url"`
	LocalPath    string     `db:"local_path" json:"local_path"`
	Bytes        int64      `db:"bytes" json:"bytes"`
	Overwrote    bool       `db:"overwrote" json:"overwrote"`
	Success      bool       `db:"success" json:"success"`
	Error        string     `db:"error" json:"error,omitempty"`
	Edition      string     `db:"edition" json:"edition,omitempty"`
	UpdateNumber string     `db:"update_number" json:"update_number,omitempty"`
	UpdateDate   string     `db:"update_date" json:"update_date,omitempty"`
	DownloadedAt *time.Time `db:"downloaded_at" json:"downloaded_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// DownloadReport summarizes one Fetcher pass.
type DownloadReport struct {
	Succeeded []ChartDownload
	Failed    []ChartDownload
}

func (r DownloadReport) Total() int { return len(r.Succeeded) + len(r.Failed) }

// DuplicateDrop records one record removed by the Deduplicator.
type DuplicateDrop struct {
	Key        string
	Value      string
	Source     string // archive of the dropped record
	KeptSource string // archive of the record that won
}

// LayerRef identifies the hosted layer a feature class is published to.
// It is resolved once per feature class per run.
type LayerRef struct {
	ItemID     string
	Title      string
	ServiceURL string
	LayerIndex int
	WKID       int
}

// AddFailure is one rejected record from a bulk add.
type AddFailure struct {
	Code        int
	Description string
}

// PublishResult is the outcome of publishing one feature class.
type PublishResult struct {
	FeatureClass string
	Layer        LayerRef
	Extracted    int
	Duplicates   int
	Added        int
	Failures     []AddFailure
	Published    bool // alternate path: published/overwrote a service from a package
	Err          error
}

// Succeeded reports whether every record reached the hosted layer.
func (r PublishResult) Succeeded() bool { return r.Err == nil && len(r.Failures) == 0 }

// PublishRun is the audit row for one feature class in one run.
type PublishRun struct {
	ID           int64      `db:"id" json:"id"`
	RunID        string     `db:"run_id" json:"run_id"`
	FeatureClass string     `db:"feature_class" json:"feature_class"`
	ItemID       string     `db:"item_id" json:"item_id,omitempty"`
	Extracted    int        `db:"extracted" json:"extracted"`
	Duplicates   int        `db:"duplicates" json:"duplicates"`
	Added        int        `db:"added" json:"added"`
	Failed       int        `db:"failed" json:"failed"`
	Status       string     `db:"status" json:"status"`
	Error        string     `db:"error" json:"error,omitempty"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)
