// Package jobs runs the map generation pipeline for one request
package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/geo/proj"
	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
	"github.com/ternarybob/mapgen/internal/mosaic"
)

// Client-facing status labels
const (
	labelDownloading   = "Downloading hillshade files..."
	labelDecompressing = "Decompressing hillshade data..."
	labelProcessing    = "Processing hillshade data..."
	labelUploads       = "Processing uploads..."
	labelDrawing       = "Drawing map image..."
	labelCoastlines    = "Drawing coastlines..."
	labelScaleBar      = "Adding Scale Bar..."
	labelStations      = "Plotting Stations..."
	labelOverview      = "Adding Overview Map..."
	labelLegend        = "Adding Legend..."
	labelSaving        = "Saving final image..."
)

// Orchestrator drives one request from Initializing to Complete or Failed
type Orchestrator struct {
	store    interfaces.JobStore
	fetcher  interfaces.ElevationFetcher
	builder  *mosaic.Builder
	renderer interfaces.Renderer
	config   *common.Config
	logger   arbor.ILogger
}

func NewOrchestrator(
	store interfaces.JobStore,
	fetcher interfaces.ElevationFetcher,
	warper interfaces.Warper,
	renderer interfaces.Renderer,
	config *common.Config,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		store:    store,
		fetcher:  fetcher,
		builder:  mosaic.NewBuilder(warper, logger),
		renderer: renderer,
		config:   config,
		logger:   logger,
	}
}

// Run generates the map for requestID. Every transition is written to the
// store and, when sink is non-nil, sent to it. Any error after the record is
// loaded, including a panic, leaves the job Failed and is returned.
func (o *Orchestrator) Run(ctx context.Context, requestID string, sink interfaces.ProgressSink) (err error) {
	record, err := o.store.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", requestID, err)
	}
	if record.Done() {
		o.logger.Warn().Str("request_id", requestID).Str("stage", record.Stage.String()).Msg("Job already finished, not running again")
		return nil
	}

	logger := o.logger.WithCorrelationId(requestID)
	rep := newReporter(o.store, sink, record, logger)

	defer func() {
		if r := recover(); r != nil {
			err = common.RecoverError(r)
			logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Panic during map generation")
		}
		if err != nil {
			logger.Error().Err(err).Msg("Map generation failed")
			if failErr := rep.fail(ctx, err); failErr != nil {
				logger.Error().Err(failErr).Msg("Failed to record job failure")
			}
		}
	}()

	tmpDir, err := os.MkdirTemp(o.config.TempRoot(), "mapgen-"+requestID+"-")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			logger.Warn().Err(rmErr).Str("dir", tmpDir).Msg("Failed to remove temp directory")
		}
	}()

	return o.generate(ctx, rep, tmpDir, logger)
}

func (o *Orchestrator) generate(ctx context.Context, rep *reporter, tmpDir string, logger arbor.ILogger) error {
	params := rep.record.Params

	logger.Info().
		Str("bounds", params.Bounds.String()).
		Str("zoom", fmt.Sprintf("%g", params.Zoom)).
		Int("stations", len(params.Stations)).
		Int("insets", len(params.Insets)).
		Msg("Starting map generation")

	if err := rep.stage(ctx, models.StageInitializing, models.StageInitializing.String()); err != nil {
		return err
	}

	layers, err := o.hillshade(ctx, rep, mainStages, params.Bounds, params.Zoom, filepath.Join(tmpDir, "main"))
	if err != nil {
		return err
	}

	uploads, err := o.processUploads(ctx, rep, tmpDir)
	if err != nil {
		return err
	}

	doc, err := o.renderer.NewDocument(params)
	if err != nil {
		return fmt.Errorf("failed to create map document: %w", err)
	}

	if err := rep.stage(ctx, models.StageDrawingMap, labelDrawing); err != nil {
		return err
	}
	if err := doc.DrawBasemap(ctx, layers); err != nil {
		return fmt.Errorf("failed to draw hillshade: %w", err)
	}
	if err := doc.DrawUploads(ctx, uploads); err != nil {
		return fmt.Errorf("failed to draw uploaded imagery: %w", err)
	}

	if err := rep.stage(ctx, models.StageDrawingCoastlines, labelCoastlines); err != nil {
		return err
	}
	if err := doc.DrawCoastlines(ctx); err != nil {
		return fmt.Errorf("failed to draw coastlines: %w", err)
	}

	if params.ScalePosition != "" {
		if err := rep.stage(ctx, models.StageAddingScaleBar, labelScaleBar); err != nil {
			return err
		}
		if err := doc.DrawScaleBar(ctx, params.ScalePosition); err != nil {
			return fmt.Errorf("failed to draw scale bar: %w", err)
		}
	}

	if len(params.Stations) > 0 && params.Zoom >= o.config.Render.MinStationZoom {
		if err := rep.stage(ctx, models.StagePlottingStations, labelStations); err != nil {
			return err
		}
		if err := doc.PlotStations(ctx, params.Stations); err != nil {
			return fmt.Errorf("failed to plot stations: %w", err)
		}
	}

	if params.OverviewPosition != "" {
		if err := rep.stage(ctx, models.StageAddingOverview, labelOverview); err != nil {
			return err
		}
		if err := doc.DrawOverview(ctx, params.OverviewPosition, params.OverviewWidth, o.overviewRegion(params)); err != nil {
			return fmt.Errorf("failed to draw overview map: %w", err)
		}
	}

	for i, inset := range params.Insets {
		label := fmt.Sprintf("Adding inset map %d of %d...", i+1, len(params.Insets))
		if err := rep.stage(ctx, models.StageAddingOverview, label); err != nil {
			return err
		}
		insetLayers, err := o.hillshade(ctx, rep, insetStages, inset.Bounds, inset.Zoom, filepath.Join(tmpDir, fmt.Sprintf("inset-%d", i)))
		if err != nil {
			return err
		}
		if err := doc.DrawInset(ctx, interfaces.InsetSource{Inset: inset, Layers: insetLayers}); err != nil {
			return fmt.Errorf("failed to draw inset %d: %w", i+1, err)
		}
	}

	if params.LegendPosition != "" && len(params.Stations) > 0 {
		if err := rep.stage(ctx, models.StageAddingLegend, labelLegend); err != nil {
			return err
		}
		if err := doc.DrawLegend(ctx, params.LegendPosition); err != nil {
			return fmt.Errorf("failed to draw legend: %w", err)
		}
	}

	if err := rep.stage(ctx, models.StageSaving, labelSaving); err != nil {
		return err
	}
	if err := os.MkdirAll(o.config.Paths.CacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	output := filepath.Join(o.config.Paths.CacheDir, common.NewOutputToken()+".pdf")
	if err := doc.Save(ctx, output); err != nil {
		return fmt.Errorf("failed to save map: %w", err)
	}

	if err := rep.complete(ctx, output); err != nil {
		os.Remove(output)
		return err
	}

	logger.Info().Str("output", output).Msg("Map generation complete")
	return nil
}

// stageSet names the stages the hillshade steps report under. Insets are
// drawn after the main map, so their steps stay in the current stage.
type stageSet struct {
	download, decompress, process models.Stage
}

var (
	mainStages  = stageSet{models.StageDownloadingHillshade, models.StageDecompressing, models.StageProcessingHillshade}
	insetStages = stageSet{models.StageAddingOverview, models.StageAddingOverview, models.StageAddingOverview}
)

// hillshade fetches and processes live elevation rasters for bounds. Below
// the live zoom threshold no rasters are used.
func (o *Orchestrator) hillshade(ctx context.Context, rep *reporter, stages stageSet, bounds geo.Bounds, zoom float64, dir string) ([]interfaces.HillshadeLayer, error) {
	if zoom < o.config.Elevation.LiveZoom {
		rep.logger.Debug().Str("zoom", fmt.Sprintf("%g", zoom)).Msg("Zoom below live elevation threshold, drawing without hillshade")
		return nil, nil
	}

	downloadDir := filepath.Join(dir, "download")
	rasterDir := filepath.Join(dir, "tiffs")
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	if err := rep.stage(ctx, stages.download, labelDownloading); err != nil {
		return nil, err
	}
	archives, err := o.fetcher.Download(ctx, bounds, downloadDir, func(pc float64) {
		rep.progress(ctx, stages.download, labelDownloading, pc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download hillshade: %w", err)
	}

	if err := rep.stage(ctx, stages.decompress, labelDecompressing); err != nil {
		return nil, err
	}
	rasters, err := o.fetcher.Extract(ctx, archives, rasterDir)
	if err != nil {
		return nil, fmt.Errorf("failed to extract hillshade: %w", err)
	}

	if err := rep.stage(ctx, stages.process, labelProcessing); err != nil {
		return nil, err
	}
	sources := make([]mosaic.Source, len(rasters))
	for i, r := range rasters {
		sources[i] = mosaic.Source{Path: r}
	}
	processed, err := o.builder.Build(ctx, sources, bounds, func(pc float64) {
		rep.progress(ctx, stages.process, labelProcessing, pc)
	})
	if err != nil {
		return nil, err
	}

	return toLayers(processed), nil
}

// processUploads warps the request's uploaded image, if any
func (o *Orchestrator) processUploads(ctx context.Context, rep *reporter, tmpDir string) ([]interfaces.HillshadeLayer, error) {
	uploads := rep.record.Uploads
	if uploads == nil || uploads.Image == "" {
		return nil, nil
	}
	params := rep.record.Params

	if err := rep.stage(ctx, models.StageProcessingUploads, labelUploads); err != nil {
		return nil, err
	}

	src := mosaic.Source{
		Path:      uploads.Image,
		WorldFile: uploads.WorldFile,
		OutDir:    tmpDir,
	}
	// GeoTIFFs carry their own reference; JPEGs need the declared projection
	if params.ImageType == models.ImageTypeJPEG {
		epsg, err := proj.ParseEPSG(params.ImageProjection)
		if err != nil {
			return nil, fmt.Errorf("invalid upload projection: %w", err)
		}
		src.EPSG = epsg
	}

	processed, err := o.builder.Build(ctx, []mosaic.Source{src}, params.Bounds, nil)
	if err != nil {
		return nil, err
	}
	return toLayers(processed), nil
}

func (o *Orchestrator) overviewRegion(params models.MapParams) geo.Bounds {
	if params.OverviewBounds != nil {
		return *params.OverviewBounds
	}
	region, _ := geo.FromSlice(o.config.Render.OverviewBounds)
	return region
}

func toLayers(paths []string) []interfaces.HillshadeLayer {
	layers := make([]interfaces.HillshadeLayer, len(paths))
	for i, p := range paths {
		layers[i] = interfaces.HillshadeLayer{Path: p}
	}
	return layers
}
