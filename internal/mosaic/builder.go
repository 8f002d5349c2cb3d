// Package mosaic turns downloaded and uploaded rasters into EPSG:4326
// GeoTIFFs cut to the requested map bounds.
package mosaic

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/interfaces"
)

// ProcessedSuffix is appended to a raster's name for its warped copy
const ProcessedSuffix = "-processed.tiff"

// Source is one raster to process
type Source struct {
	Path string

	// EPSG overrides the raster's embedded spatial reference (0 = embedded)
	EPSG int

	// WorldFile georeferences rasters that carry no embedded transform
	WorldFile string

	// OutDir receives the warped copy; empty writes it next to Path
	OutDir string
}

func (s Source) dest() string {
	if s.OutDir == "" {
		return ProcessedPath(s.Path)
	}
	return ProcessedPath(filepath.Join(s.OutDir, filepath.Base(s.Path)))
}

// Builder aligns, clamps and warps rasters against a target window
type Builder struct {
	warper interfaces.Warper
	logger arbor.ILogger
}

func NewBuilder(warper interfaces.Warper, logger arbor.ILogger) *Builder {
	return &Builder{warper: warper, logger: logger}
}

// ProcessedPath returns the warped output path for a raster
func ProcessedPath(path string) string {
	return path + ProcessedSuffix
}

// Build processes every source against target and returns the written
// EPSG:4326 rasters in source order. A raster whose extent cannot be read or
// does not overlap the target is skipped; a failed warp aborts the build.
func (b *Builder) Build(ctx context.Context, sources []Source, target geo.Bounds, progress interfaces.ProgressFunc) ([]string, error) {
	window := target.Normalized()

	var processed []string
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		out, err := b.process(ctx, src, window)
		if err != nil {
			return processed, err
		}
		if out != "" {
			processed = append(processed, out)
		}

		if progress != nil {
			progress(float64(i+1) / float64(len(sources)) * 100)
		}
	}

	b.logger.Info().
		Int("sources", len(sources)).
		Int("processed", len(processed)).
		Str("bounds", window.String()).
		Msg("Processed hillshade rasters")

	return processed, nil
}

func (b *Builder) process(ctx context.Context, src Source, window geo.Bounds) (string, error) {
	name := filepath.Base(src.Path)

	extent, err := b.warper.Extent(ctx, src.Path, src.EPSG, src.WorldFile)
	if err != nil {
		b.logger.Warn().Err(err).Str("raster", name).Msg("Skipping raster with unreadable extent")
		return "", nil
	}

	aligned := extent.AlignTo(window)
	clamped, moved := aligned.ClampTo(window)
	if !clamped.Valid() {
		b.logger.Debug().
			Str("raster", name).
			Str("extent", extent.String()).
			Msg("Skipping raster outside requested bounds")
		return "", nil
	}

	req := interfaces.WarpRequest{
		Source:     src.Path,
		Dest:       src.dest(),
		SourceEPSG: src.EPSG,
		WorldFile:  src.WorldFile,
	}
	// Keep the output in the window's longitude frame when alignment shifted it
	if moved || aligned.West != extent.West {
		req.OutputBounds = &clamped
	}

	if err := b.warper.Warp(ctx, req); err != nil {
		return "", fmt.Errorf("failed to warp %s: %w", name, err)
	}

	return req.Dest, nil
}
