package elevation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/interfaces"
)

// Fetcher implements interfaces.ElevationFetcher against a Catalog.
// Upstream failures (listing, download status, connection loss, corrupt
// archives) are logged and skipped; only local filesystem errors are returned.
type Fetcher struct {
	catalog *Catalog
	config  *common.ElevationConfig
	logger  arbor.ILogger
}

var _ interfaces.ElevationFetcher = (*Fetcher)(nil)

// NewFetcher creates a fetcher for the configured catalog
func NewFetcher(config *common.ElevationConfig, logger arbor.ILogger) *Fetcher {
	return &Fetcher{
		catalog: NewCatalog(config, logger),
		config:  config,
		logger:  logger,
	}
}

// Download fetches one archive per antimeridian piece of bounds into dir
func (f *Fetcher) Download(ctx context.Context, bounds geo.Bounds, dir string, progress interfaces.ProgressFunc) ([]string, error) {
	pieces := geo.SplitAntimeridian(bounds)

	var estimate int64
	for _, piece := range pieces {
		size, err := f.catalog.EstimateSize(ctx, piece)
		if err != nil {
			f.logger.Warn().Err(err).Str("bounds", piece.String()).Msg("Unable to get file listing, download progress will not be reported")
			continue
		}
		if size > 0 {
			estimate += size
		}
	}

	f.logger.Info().Int("pieces", len(pieces)).Int64("estimated_bytes", estimate).Msg("Downloading hillshade files")

	tracker := &progressTracker{
		estimate: estimate,
		report:   progress,
		limiter:  rate.NewLimiter(rate.Every(f.config.ProgressInterval), 1),
	}

	var archives []string
	for i, piece := range pieces {
		if err := ctx.Err(); err != nil {
			return archives, err
		}

		path := filepath.Join(dir, fmt.Sprintf("custom_download_%d.zip", i))
		n, err := f.downloadPiece(ctx, piece, path, tracker)
		if err != nil {
			var fsErr *os.PathError
			if errors.As(err, &fsErr) {
				return archives, err
			}
			f.logger.Warn().Err(err).Str("bounds", piece.String()).Msg("Unable to fetch hillshade files for region")
			continue
		}

		f.logger.Info().Int64("bytes", n).Str("archive", filepath.Base(path)).Msg("Downloaded hillshade archive")
		archives = append(archives, path)
	}

	tracker.flush()
	return archives, nil
}

func (f *Fetcher) downloadPiece(ctx context.Context, piece geo.Bounds, path string, tracker *progressTracker) (int64, error) {
	body, err := f.catalog.OpenDownload(ctx, piece)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	chunk := f.config.ChunkSize
	if chunk <= 0 {
		chunk = 10 * 1024 * 1024
	}
	buf := make([]byte, chunk)

	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				out.Close()
				os.Remove(path)
				return written, err
			}
			written += int64(n)
			tracker.add(int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(path)
			return written, fmt.Errorf("download interrupted after %d bytes: %w", written, readErr)
		}
	}

	return written, out.Close()
}

// progressTracker turns received bytes into throttled percent reports.
// Nothing is reported without a positive size estimate.
type progressTracker struct {
	estimate int64
	loaded   int64
	report   interfaces.ProgressFunc
	limiter  *rate.Limiter
	pending  bool
}

func (t *progressTracker) add(n int64) {
	t.loaded += n
	if t.estimate <= 0 || t.report == nil {
		return
	}
	if !t.limiter.Allow() {
		t.pending = true
		return
	}
	t.pending = false
	t.report(t.percent())
}

func (t *progressTracker) flush() {
	if t.pending && t.report != nil {
		t.report(t.percent())
		t.pending = false
	}
}

func (t *progressTracker) percent() float64 {
	// The estimate is approximate; never claim more than 100
	pc := float64(t.loaded) / float64(t.estimate) * 100
	if pc > 100 {
		pc = 100
	}
	return float64(int(pc*10)) / 10
}

// Extract unpacks archives into dir. Nested archives are opened one level
// down; only files with a configured raster suffix are kept and a raster whose
// name already exists in dir is not written again.
func (f *Fetcher) Extract(ctx context.Context, archives []string, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create raster directory: %w", err)
	}

	for _, archive := range archives {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := f.extractArchive(archive, dir, true); err != nil {
			var fsErr *os.PathError
			if errors.As(err, &fsErr) && !errors.Is(err, zip.ErrFormat) {
				return nil, err
			}
			f.logger.Warn().Err(err).Str("archive", filepath.Base(archive)).Msg("Skipping unreadable archive")
		}
	}

	return listRasters(dir, f.config.RasterSuffixes)
}

func (f *Fetcher) extractArchive(path, dir string, allowNested bool) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", filepath.Base(path), err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(entry.Name)

		switch {
		case allowNested && strings.EqualFold(filepath.Ext(name), ".zip"):
			if err := f.extractNested(entry, dir); err != nil {
				return err
			}
		case hasSuffix(name, f.config.RasterSuffixes):
			if err := f.extractFile(entry, filepath.Join(dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *Fetcher) extractNested(entry *zip.File, dir string) error {
	f.logger.Debug().Str("archive", entry.Name).Msg("Reading nested archive")

	tmp, err := os.CreateTemp(filepath.Dir(dir), "nested-*.zip")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	rc, err := entry.Open()
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to open nested archive %s: %w", entry.Name, err)
	}
	_, copyErr := io.Copy(tmp, rc)
	rc.Close()
	if closeErr := tmp.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return fmt.Errorf("failed to read nested archive %s: %w", entry.Name, copyErr)
	}

	if err := f.extractArchive(tmpPath, dir, false); err != nil {
		// A corrupt inner archive only loses its own rasters
		f.logger.Warn().Err(err).Str("archive", entry.Name).Msg("Skipping unreadable nested archive")
	}
	return nil
}

func (f *Fetcher) extractFile(entry *zip.File, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil // already extracted
	}

	f.logger.Debug().Str("file", filepath.Base(dest)).Msg("Extracting raster")

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", entry.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}
	return out.Close()
}

func listRasters(dir string, suffixes []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list rasters: %w", err)
	}

	var rasters []string
	for _, e := range entries {
		if e.IsDir() || !hasSuffix(e.Name(), suffixes) {
			continue
		}
		rasters = append(rasters, filepath.Join(dir, e.Name()))
	}
	sort.Strings(rasters)
	return rasters, nil
}

func hasSuffix(name string, suffixes []string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
