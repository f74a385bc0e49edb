// Package backfill downloads historical kline archives from a public
// data repository into a local archive directory. Monthly archives cover
// whole past months; daily archives fill the current month up to
// yesterday.
package backfill

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/cryptolake/internal/config"
)

// Downloader fetches zip archives for a set of trading pairs. Downloads
// are resumable at file granularity: an archive that already exists
// locally is never re-fetched.
type Downloader struct {
	monthlyURL string
	dailyURL   string
	pairs      []string
	interval   string
	archiveDir string
	startYear  int
	httpClient *http.Client
	logger     *logrus.Logger

	now func() time.Time
}

func NewDownloader(cfg config.BackfillConfig, logger *logrus.Logger) *Downloader {
	startYear := cfg.StartYear
	if startYear <= 0 {
		startYear = 2017
	}
	interval := cfg.Interval
	if interval == "" {
		interval = "1m"
	}

	return &Downloader{
		monthlyURL: cfg.MonthlyURL,
		dailyURL:   cfg.DailyURL,
		pairs:      cfg.Pairs,
		interval:   interval,
		archiveDir: cfg.ArchiveDir,
		startYear:  startYear,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// Run downloads every missing archive for every configured pair. A pair
// whose archive is not published yet (404) is skipped quietly; transport
// failures and corrupt downloads fail the run.
func (d *Downloader) Run(ctx context.Context) error {
	downloaded, skipped := 0, 0

	for _, pair := range d.pairs {
		for _, target := range d.targets(pair) {
			got, err := d.fetchArchive(ctx, target)
			if err != nil {
				return err
			}
			if got {
				downloaded++
			} else {
				skipped++
			}
		}
	}

	d.logger.WithFields(logrus.Fields{
		"pairs":      len(d.pairs),
		"downloaded": downloaded,
		"skipped":    skipped,
	}).Info("Backfill complete")
	return nil
}

type target struct {
	url  string
	path string
}

// targets enumerates the monthly archives from startYear through last
// month, then daily archives from the 1st of the current month through
// yesterday.
func (d *Downloader) targets(pair string) []target {
	now := d.now().UTC()
	var targets []target

	month := time.Date(d.startYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for ; month.Before(currentMonth); month = month.AddDate(0, 1, 0) {
		name := fmt.Sprintf("%s-%s-%s.zip", pair, d.interval, month.Format("2006-01"))
		targets = append(targets, target{
			url:  fmt.Sprintf("%s/%s/%s/%s", d.monthlyURL, pair, d.interval, name),
			path: filepath.Join(d.archiveDir, pair, "monthly", name),
		})
	}

	yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for day := currentMonth; !day.After(yesterday); day = day.AddDate(0, 0, 1) {
		name := fmt.Sprintf("%s-%s-%s.zip", pair, d.interval, day.Format("2006-01-02"))
		targets = append(targets, target{
			url:  fmt.Sprintf("%s/%s/%s/%s", d.dailyURL, pair, d.interval, name),
			path: filepath.Join(d.archiveDir, pair, "daily", name),
		})
	}
	return targets
}

// fetchArchive downloads one archive unless it is already present. The
// bool reports whether a download actually happened.
func (d *Downloader) fetchArchive(ctx context.Context, t target) (bool, error) {
	if _, err := os.Stat(t.path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat %s: %w", t.path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create backfill request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to download %s: %w", t.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// The repository publishes archives with a delay; a missing one
		// will show up on a later run.
		d.logger.WithField("url", t.url).Debug("Archive not published yet")
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("download %s returned status %d", t.url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read archive %s: %w", t.url, err)
	}

	if err := verifyZip(data); err != nil {
		return false, fmt.Errorf("archive %s is corrupt: %w", t.url, err)
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create archive dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(t.path), ".tmp-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temp archive: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return false, fmt.Errorf("failed to write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return false, fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		os.Remove(tmp.Name())
		return false, fmt.Errorf("failed to place archive: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"archive": t.path,
		"bytes":   len(data),
	}).Info("Archive downloaded")
	return true, nil
}

// verifyZip checks that the payload is a readable zip with at least one
// entry. A truncated download fails here instead of poisoning the
// archive directory.
func verifyZip(data []byte) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	if len(reader.File) == 0 {
		return fmt.Errorf("archive contains no entries")
	}
	return nil
}
