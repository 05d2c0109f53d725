// scraper/chart_downloader.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gewnthar/encwind/config"
	"github.com/gewnthar/encwind/metrics"
	"github.com/gewnthar/encwind/models"
	"github.com/gewnthar/encwind/utils"
)

// chunkSize is the read size used when streaming an archive to disk.
const chunkSize = 8 * 1024

// DownloadRecorder stores one row per download attempt.
type DownloadRecorder interface {
	RecordDownload(ctx context.Context, d models.ChartDownload) error
}

// Fetcher downloads ENC archives from the NOAA chart server.
type Fetcher struct {
	Client    *http.Client
	BaseURL   string
	TargetDir string
	Logger    *slog.Logger
	Metrics   *metrics.Collector
	Recorder  DownloadRecorder
}

// NewFetcher builds a Fetcher from the noaa config section.
func NewFetcher(cfg config.NOAAConfig, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		Client:    &http.Client{Timeout: cfg.DownloadTimeout},
		BaseURL:   cfg.BaseURL,
		TargetDir: cfg.TargetDir,
		Logger:    logger.With("component", "fetcher"),
	}
}

// DownloadFile streams url into localSavePath, overwriting any existing file.
// It returns the number of bytes written.
func (f *Fetcher) DownloadFile(ctx context.Context, url, localSavePath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to make GET request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("failed to download file from %s: received status code %d", url, resp.StatusCode)
	}

	outFile, err := os.Create(localSavePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create local file %s: %w", localSavePath, err)
	}
	defer outFile.Close()

	n, err := writeChunks(outFile, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to copy downloaded content to %s: %w", localSavePath, err)
	}
	return n, nil
}

func writeChunks(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// DownloadCharts fetches every chart in order. A failed chart is logged and
// skipped. editions may be nil.
func (f *Fetcher) DownloadCharts(ctx context.Context, runID string, charts []string, editions map[string]models.ChartEdition) (models.DownloadReport, error) {
	var report models.DownloadReport
	if err := os.MkdirAll(f.TargetDir, 0755); err != nil {
		return report, fmt.Errorf("failed to create directory %s: %w", f.TargetDir, err)
	}

	for _, name := range utils.NormalizeChartNames(charts) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		d := f.downloadChart(ctx, name)
		d.RunID = runID
		if ed, ok := editions[utils.CellName(name)]; ok {
			d.Edition = ed.Edition
			d.UpdateNumber = ed.Update
			d.UpdateDate = ed.UpdateDate
		}
		if d.Success {
			report.Succeeded = append(report.Succeeded, d)
		} else {
			report.Failed = append(report.Failed, d)
		}
		f.Metrics.ObserveDownload(d.Success)
		if f.Recorder != nil {
			if err := f.Recorder.RecordDownload(ctx, d); err != nil {
				f.Logger.Warn("Failed to record download", "chart", name, "error", err)
			}
		}
	}

	f.Logger.Info("Chart downloads finished",
		"succeeded", len(report.Succeeded), "failed", len(report.Failed), "dir", f.TargetDir)
	return report, nil
}

func (f *Fetcher) downloadChart(ctx context.Context, name string) models.ChartDownload {
	url := f.BaseURL + name
	path := filepath.Join(f.TargetDir, name)
	d := models.ChartDownload{ChartName: name, SourceURL: url, LocalPath: path, CreatedAt: time.Now().UTC()}

	if _, err := os.Stat(path); err == nil {
		d.Overwrote = true
		f.Logger.Info("Overwriting existing chart", "chart", name, "path", path)
	} else {
		f.Logger.Info("Downloading new chart", "chart", name, "url", url)
	}

	n, err := f.DownloadFile(ctx, url, path)
	d.Bytes = n
	if err != nil {
		d.Error = err.Error()
		f.Logger.Error("Chart download failed", "chart", name, "error", err)
		return d
	}
	now := time.Now().UTC()
	d.Success = true
	d.DownloadedAt = &now
	f.Logger.Info("Chart downloaded", "chart", name, "size", humanize.Bytes(uint64(n)))
	return d
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}
