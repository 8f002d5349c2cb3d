package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
)

// memStore is an in-memory JobStore that keeps every written stage
type memStore struct {
	mu      sync.Mutex
	records map[string]models.JobRecord
	history []models.Stage
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]models.JobRecord)}
}

func (s *memStore) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	return &r, nil
}

func (s *memStore) Set(ctx context.Context, id string, record *models.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = *record
	s.history = append(s.history, record.Stage)
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *memStore) Claim(ctx context.Context, id string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	delete(s.records, id)
	return &r, nil
}

func (s *memStore) ListUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*models.JobRecord, error) {
	return nil, nil
}

type recordingSink struct {
	updates []models.StatusUpdate
}

func (s *recordingSink) Send(u models.StatusUpdate) error {
	s.updates = append(s.updates, u)
	return nil
}

type fakeFetcher struct {
	downloads []geo.Bounds
	archives  []string
	rasters   []string
}

func (f *fakeFetcher) Download(ctx context.Context, bounds geo.Bounds, dir string, progress interfaces.ProgressFunc) ([]string, error) {
	f.downloads = append(f.downloads, bounds)
	if progress != nil && len(f.archives) > 0 {
		progress(50)
		progress(100)
	}
	return f.archives, nil
}

func (f *fakeFetcher) Extract(ctx context.Context, archives []string, dir string) ([]string, error) {
	if len(archives) == 0 {
		return nil, nil
	}
	return f.rasters, nil
}

type fakeWarper struct {
	extents map[string]geo.Bounds
	err     error
	warped  []interfaces.WarpRequest
}

func (w *fakeWarper) Extent(ctx context.Context, path string, sourceEPSG int, worldFile string) (geo.Bounds, error) {
	if b, ok := w.extents[filepath.Base(path)]; ok {
		return b, nil
	}
	return geo.Bounds{}, errors.New("no extent")
}

func (w *fakeWarper) Warp(ctx context.Context, req interfaces.WarpRequest) error {
	w.warped = append(w.warped, req)
	return w.err
}

type fakeRenderer struct {
	doc *fakeDocument
}

func (r *fakeRenderer) NewDocument(params models.MapParams) (interfaces.MapDocument, error) {
	r.doc = &fakeDocument{}
	return r.doc, nil
}

type fakeDocument struct {
	calls     []string
	basemap   []interfaces.HillshadeLayer
	uploads   []interfaces.HillshadeLayer
	insets    []interfaces.InsetSource
	overview  geo.Bounds
	panicOn   string
	saveError error
}

func (d *fakeDocument) call(name string) {
	if d.panicOn == name {
		panic("renderer exploded")
	}
	d.calls = append(d.calls, name)
}

func (d *fakeDocument) DrawBasemap(ctx context.Context, layers []interfaces.HillshadeLayer) error {
	d.call("basemap")
	d.basemap = layers
	return nil
}

func (d *fakeDocument) DrawUploads(ctx context.Context, layers []interfaces.HillshadeLayer) error {
	d.call("uploads")
	d.uploads = layers
	return nil
}

func (d *fakeDocument) DrawCoastlines(ctx context.Context) error { d.call("coastlines"); return nil }

func (d *fakeDocument) DrawScaleBar(ctx context.Context, position string) error {
	d.call("scale")
	return nil
}

func (d *fakeDocument) PlotStations(ctx context.Context, stations []models.Station) error {
	d.call("stations")
	return nil
}

func (d *fakeDocument) DrawOverview(ctx context.Context, position string, width float64, region geo.Bounds) error {
	d.call("overview")
	d.overview = region
	return nil
}

func (d *fakeDocument) DrawInset(ctx context.Context, inset interfaces.InsetSource) error {
	d.call("inset")
	d.insets = append(d.insets, inset)
	return nil
}

func (d *fakeDocument) DrawLegend(ctx context.Context, position string) error {
	d.call("legend")
	return nil
}

func (d *fakeDocument) Save(ctx context.Context, path string) error {
	d.call("save")
	if d.saveError != nil {
		return d.saveError
	}
	return os.WriteFile(path, []byte("%PDF-1.4"), 0644)
}

type harness struct {
	store    *memStore
	fetcher  *fakeFetcher
	warper   *fakeWarper
	renderer *fakeRenderer
	config   *common.Config
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Paths.TempDir = t.TempDir()
	config.Paths.CacheDir = filepath.Join(t.TempDir(), "cache")

	h := &harness{
		store: newMemStore(),
		fetcher: &fakeFetcher{
			archives: []string{"custom_download_0.zip", "custom_download_1.zip"},
			rasters:  []string{"west.tif", "east.tif", "far.tif"},
		},
		warper: &fakeWarper{extents: map[string]geo.Bounds{
			"west.tif": {West: 168, South: 49, East: 180, North: 61},
			"east.tif": {West: -180, South: 52, East: -172, North: 58},
			"far.tif":  {West: 10, South: 10, East: 11, North: 11},
		}},
		renderer: &fakeRenderer{},
		config:   config,
	}
	h.orch = NewOrchestrator(h.store, h.fetcher, h.warper, h.renderer, config, arbor.NewLogger())
	return h
}

func (h *harness) submit(t *testing.T, id string, params models.MapParams) {
	t.Helper()
	require.NoError(t, h.store.Set(context.Background(), id, models.NewJobRecord(id, params)))
	h.store.history = nil
}

func assertMonotonic(t *testing.T, stages []models.Stage) {
	t.Helper()
	for i := 1; i < len(stages); i++ {
		if stages[i] == models.StageFailed {
			continue
		}
		assert.GreaterOrEqual(t, stages[i], stages[i-1], "stage %d regressed: %s after %s", i, stages[i], stages[i-1])
	}
}

func sinkStages(s *recordingSink) []models.Stage {
	out := make([]models.Stage, len(s.updates))
	for i, u := range s.updates {
		out[i] = u.Stage
	}
	return out
}

func datelineParams() models.MapParams {
	return models.MapParams{
		Width:            8,
		Unit:             models.UnitInches,
		Bounds:           geo.Bounds{West: 170, South: 50, East: -170, North: 60},
		Zoom:             12,
		ScalePosition:    "BL",
		LegendPosition:   "TR",
		OverviewPosition: "BR",
		OverviewWidth:    1.5,
		Stations:         []models.Station{{Name: "AK01", Category: "GPS", Lat: 55, Lon: 179}},
	}
}

func TestRun_DatelineJobCompletes(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "abc123", datelineParams())

	sink := &recordingSink{}
	require.NoError(t, h.orch.Run(context.Background(), "abc123", sink))

	rec, err := h.store.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, models.StageComplete, rec.Stage)
	assert.Equal(t, "Complete", rec.Status.Label)
	require.NotEmpty(t, rec.OutputPath)
	assert.FileExists(t, rec.OutputPath)
	assert.Equal(t, ".pdf", filepath.Ext(rec.OutputPath))

	// Two rasters overlap the box, the third is skipped
	require.Len(t, h.warper.warped, 2)
	assert.Len(t, h.renderer.doc.basemap, 2)

	assert.Equal(t, []string{"basemap", "uploads", "coastlines", "scale", "stations", "overview", "legend", "save"}, h.renderer.doc.calls)
	assert.Equal(t, geo.Bounds{West: -190, South: 48.5, East: -147.68, North: 69.5}, h.renderer.doc.overview)

	// Store and sink observed the same sequence
	assert.Equal(t, h.store.history, sinkStages(sink))
	assertMonotonic(t, h.store.history)
	assert.Equal(t, models.StageComplete, sink.updates[len(sink.updates)-1].Stage)

	assert.Contains(t, h.store.history, models.StageDownloadingHillshade)
	assert.Contains(t, h.store.history, models.StageDecompressing)
	assert.Contains(t, h.store.history, models.StageProcessingHillshade)

	entries, err := os.ReadDir(h.config.Paths.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp directory removed")
}

func TestRun_NoDownloadsStillCompletes(t *testing.T) {
	h := newHarness(t)
	h.fetcher.archives = nil
	h.submit(t, "nodata", datelineParams())

	require.NoError(t, h.orch.Run(context.Background(), "nodata", nil))

	rec, err := h.store.Get(context.Background(), "nodata")
	require.NoError(t, err)
	assert.Equal(t, models.StageComplete, rec.Stage)
	assert.Empty(t, h.renderer.doc.basemap)
	assert.Empty(t, h.warper.warped)
}

func TestRun_EveryWarpFailing(t *testing.T) {
	h := newHarness(t)
	h.warper.err = errors.New("reprojection failed")
	h.submit(t, "badwarp", datelineParams())

	sink := &recordingSink{}
	err := h.orch.Run(context.Background(), "badwarp", sink)
	require.Error(t, err)

	rec, err := h.store.Get(context.Background(), "badwarp")
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, rec.Stage)
	assert.Equal(t, "Failed", rec.Status.Label)
	assert.Empty(t, rec.OutputPath)
	assert.Contains(t, rec.Error, "reprojection failed")

	require.NotEmpty(t, sink.updates)
	assert.True(t, sink.updates[len(sink.updates)-1].Terminal())
	assert.Equal(t, models.StageFailed, sink.updates[len(sink.updates)-1].Stage)

	entries, err := os.ReadDir(h.config.Paths.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_PanicBecomesFailed(t *testing.T) {
	h := newHarness(t)
	h.orch.renderer = panickingRenderer{}
	h.submit(t, "boom", datelineParams())

	err := h.orch.Run(context.Background(), "boom", nil)
	require.Error(t, err)

	rec, err := h.store.Get(context.Background(), "boom")
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, rec.Stage)
}

type panickingRenderer struct{}

func (panickingRenderer) NewDocument(params models.MapParams) (interfaces.MapDocument, error) {
	return &fakeDocument{panicOn: "coastlines"}, nil
}

func TestRun_SaveErrorFails(t *testing.T) {
	h := newHarness(t)
	h.orch.renderer = saveFailRenderer{}
	h.submit(t, "nosave", datelineParams())

	require.Error(t, h.orch.Run(context.Background(), "nosave", nil))
	rec, err := h.store.Get(context.Background(), "nosave")
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, rec.Stage)
	assert.Empty(t, rec.OutputPath)
}

type saveFailRenderer struct{}

func (saveFailRenderer) NewDocument(params models.MapParams) (interfaces.MapDocument, error) {
	return &fakeDocument{saveError: errors.New("disk full")}, nil
}

func TestRun_LowZoomSkipsHillshade(t *testing.T) {
	h := newHarness(t)
	params := datelineParams()
	params.Zoom = 6
	params.LegendPosition = ""
	h.submit(t, "lowzoom", params)

	require.NoError(t, h.orch.Run(context.Background(), "lowzoom", nil))

	assert.Empty(t, h.fetcher.downloads)
	assert.NotContains(t, h.store.history, models.StageDownloadingHillshade)
	assert.NotContains(t, h.store.history, models.StagePlottingStations)
	assert.Equal(t, []string{"basemap", "uploads", "coastlines", "scale", "overview", "save"}, h.renderer.doc.calls)
}

func TestRun_InsetsReportUnderOverview(t *testing.T) {
	h := newHarness(t)
	params := datelineParams()
	params.Insets = []models.Inset{{Bounds: geo.Bounds{West: 175, South: 54, East: 179, North: 56}, Zoom: 13, Left: 1, Top: 3, Width: 2, Height: 1}}
	h.submit(t, "insets", params)

	sink := &recordingSink{}
	require.NoError(t, h.orch.Run(context.Background(), "insets", sink))

	assertMonotonic(t, sinkStages(sink))
	require.Len(t, h.fetcher.downloads, 2)
	require.Len(t, h.renderer.doc.insets, 1)
	assert.Len(t, h.renderer.doc.insets[0].Layers, 1, "only the western raster overlaps the inset")

	var labels []string
	for _, u := range sink.updates {
		labels = append(labels, u.Status.Label)
	}
	assert.Contains(t, labels, "Adding inset map 1 of 1...")
}

func TestRun_UploadedJPEG(t *testing.T) {
	h := newHarness(t)
	params := datelineParams()
	params.ImageType = models.ImageTypeJPEG
	params.ImageProjection = "EPSG:3338"
	h.warper.extents["image.jpg"] = geo.Bounds{West: 171, South: 51, East: 172, North: 52}
	rec := models.NewJobRecord("upload", params)
	rec.Uploads = &models.Uploads{Image: "/uploads/upload/image.jpg", WorldFile: "/uploads/upload/image.jgw"}
	require.NoError(t, h.store.Set(context.Background(), "upload", rec))

	require.NoError(t, h.orch.Run(context.Background(), "upload", nil))

	require.Len(t, h.renderer.doc.uploads, 1)
	last := h.warper.warped[len(h.warper.warped)-1]
	assert.Equal(t, 3338, last.SourceEPSG)
	assert.Equal(t, "/uploads/upload/image.jgw", last.WorldFile)
	assert.Contains(t, h.store.history, models.StageProcessingUploads)
}

func TestRun_UnknownJob(t *testing.T) {
	h := newHarness(t)
	err := h.orch.Run(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestRun_FinishedJobNotRerun(t *testing.T) {
	h := newHarness(t)
	rec := models.NewJobRecord("done", datelineParams())
	require.NoError(t, rec.Complete("/cache/x.pdf"))
	require.NoError(t, h.store.Set(context.Background(), "done", rec))
	h.store.history = nil

	require.NoError(t, h.orch.Run(context.Background(), "done", nil))
	assert.Empty(t, h.store.history)
}

func TestRun_CancelledContextFails(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "cancel", datelineParams())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.orch.Run(ctx, "cancel", nil)
	require.Error(t, err)

	rec, getErr := h.store.Get(context.Background(), "cancel")
	require.NoError(t, getErr)
	assert.Equal(t, models.StageFailed, rec.Stage)
}
