// Package elevation fetches hillshade rasters from the remote elevation
// catalog: one archive per antimeridian piece of the requested bounds,
// unpacked into a job's temporary directory.
package elevation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/httpclient"
)

// ErrUnexpectedStatus is returned when the catalog answers with a non-200 status
var ErrUnexpectedStatus = errors.New("unexpected catalog response status")

// Catalog is the HTTP client for the elevation catalog's listing and
// download endpoints. Listing and download use separate timeouts.
type Catalog struct {
	config         *common.ElevationConfig
	listClient     *http.Client
	downloadClient *http.Client
	retry          httpclient.RetryPolicy
	logger         arbor.ILogger
}

// listing is one dataset entry of the catalog's query response
type listing struct {
	DatasetID json.Number `json:"dataset_id"`
	ProjectID json.Number `json:"project_id"`
	Bytes     int64       `json:"bytes"`
}

// NewCatalog creates a catalog client from configuration
func NewCatalog(config *common.ElevationConfig, logger arbor.ILogger) *Catalog {
	return &Catalog{
		config:         config,
		listClient:     httpclient.NewDefaultHTTPClient(config.ListTimeout),
		downloadClient: httpclient.NewDefaultHTTPClient(config.DownloadTimeout),
		retry:          retryPolicy(config, logger),
		logger:         logger,
	}
}

// retryPolicy starts from the default policy and applies the configured
// retry count and backoff. A negative max_retries or a zero backoff keeps the
// default.
func retryPolicy(config *common.ElevationConfig, logger arbor.ILogger) httpclient.RetryPolicy {
	retry := httpclient.DefaultRetryPolicy()
	if config.MaxRetries >= 0 {
		retry.MaxRetries = config.MaxRetries
	}
	if config.RetryBackoff > 0 {
		retry.Backoff = config.RetryBackoff
	}
	retry.OnRetry = func(attempt int, wait time.Duration, status int, err error) {
		event := logger.Warn().Int("attempt", attempt).Str("wait", wait.String())
		if status != 0 {
			event = event.Int("status", status)
		}
		if err != nil {
			event = event.Err(err)
		}
		event.Msg("Elevation catalog request failed, retrying")
	}
	return retry
}

// Polygon returns the GeoJSON polygon for a rectangle, the region form the
// catalog accepts
func Polygon(b geo.Bounds) string {
	ring := [][2]float64{
		{b.West, b.South},
		{b.West, b.North},
		{b.East, b.North},
		{b.East, b.South},
		{b.West, b.South},
	}
	data, _ := json.Marshal(struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	}{
		Type:        "Polygon",
		Coordinates: [][][2]float64{ring},
	})
	return string(data)
}

// EstimateSize asks the listing endpoint for the byte size of the configured
// dataset within b
func (c *Catalog) EstimateSize(ctx context.Context, b geo.Bounds) (int64, error) {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + c.config.ListPath
	form := url.Values{"geojson": {Polygon(b)}}

	resp, err := c.retry.Do(ctx, c.listClient, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query file listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: listing returned %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var files []listing
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return 0, fmt.Errorf("failed to decode file listing: %w", err)
	}

	want := strconv.Itoa(c.config.DatasetID)
	for _, f := range files {
		id := f.DatasetID.String()
		if id == "" {
			id = f.ProjectID.String()
		}
		if id == want {
			return f.Bytes, nil
		}
	}

	return 0, fmt.Errorf("dataset %d not found in listing", c.config.DatasetID)
}

// OpenDownload starts the archive download for b. The caller closes the body.
func (c *Catalog) OpenDownload(ctx context.Context, b geo.Bounds) (io.ReadCloser, error) {
	query := url.Values{
		"geojson": {Polygon(b)},
		"ids":     {strconv.Itoa(c.config.DatasetID)},
	}
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + c.config.DownloadPath + "?" + query.Encode()

	resp, err := c.retry.Do(ctx, c.downloadClient, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request download: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: download returned %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return resp.Body, nil
}
