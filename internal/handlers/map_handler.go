package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
)

// ResultFilename is the attachment name of a downloaded map
const ResultFilename = "MapImage.pdf"

const maxMemoryBytes = 32 << 20

var (
	imageExtensions = []string{".jpg", ".jpeg", ".tif", ".tiff"}
	worldExtensions = []string{".jgw", ".tfw"}

	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// uploadError is a problem with the client's files rather than the server
type uploadError struct {
	msg string
}

func (e *uploadError) Error() string { return e.msg }

// MapHandler accepts map requests and serves their status and results
type MapHandler struct {
	store      interfaces.JobStore
	dispatcher interfaces.Dispatcher
	config     *common.Config
	logger     arbor.ILogger
}

func NewMapHandler(store interfaces.JobStore, dispatcher interfaces.Dispatcher, config *common.Config, logger arbor.ILogger) *MapHandler {
	return &MapHandler{
		store:      store,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
	}
}

// SubmitHandler handles POST /api/maps and POST /getMap
func (h *MapHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if h.config.Server.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxUploadMB<<20)
	}

	if err := parseRequestForm(r); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "Request too large")
			return
		}
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid form: %v", err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	params, err := parseMapForm(r.Form)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := params.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := common.NewRequestID()
	record := models.NewJobRecord(id, params)

	if socketID := strings.TrimSpace(r.Form.Get("socketID")); socketID != "" {
		if !common.IsHexToken(socketID) {
			WriteError(w, http.StatusBadRequest, "Invalid socketID")
			return
		}
		record.ChannelID = socketID
	}

	uploads, err := h.saveUploads(r, id, params)
	if err != nil {
		var badUpload *uploadError
		if errors.As(err, &badUpload) {
			WriteError(w, http.StatusBadRequest, badUpload.Error())
			return
		}
		h.logger.Error().Err(err).Str("request_id", id).Msg("Failed to save uploads")
		WriteError(w, http.StatusInternalServerError, "Failed to save uploaded files")
		return
	}
	record.Uploads = uploads

	ctx := r.Context()
	if err := h.store.Set(ctx, id, record); err != nil {
		h.removeUploads(id)
		h.logger.Error().Err(err).Str("request_id", id).Msg("Failed to store job")
		WriteError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.dispatcher.Dispatch(ctx, id); err != nil {
		h.logger.Error().Err(err).Str("request_id", id).Msg("Failed to dispatch job")
		WriteError(w, http.StatusServiceUnavailable, "Unable to start map generation")
		return
	}

	h.logger.Info().
		Str("request_id", id).
		Str("bounds", params.Bounds.String()).
		Int("stations", len(params.Stations)).
		Bool("upload", uploads != nil).
		Msg("Map request accepted")

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"request_id": id,
	})
}

// StatusHandler handles GET /api/maps/{id}/status and GET /checkstatus?REQ_ID=
func (h *MapHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": record.Status,
		"done":   record.Stage == models.StageComplete,
	})
}

// ResultHandler handles GET /api/maps/{id}/result and GET /getMap?REQ_ID=.
// The map can be downloaded once; the file and the record are removed after.
func (h *MapHandler) ResultHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	if record.Stage != models.StageComplete {
		WriteError(w, http.StatusConflict, "Map is not ready")
		return
	}

	// Only the request that removes the record may send the file
	claimed, err := h.store.Claim(r.Context(), record.ID)
	if errors.Is(err, interfaces.ErrJobNotFound) {
		WriteError(w, http.StatusNotFound, "Unknown request id")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", record.ID).Msg("Failed to claim job")
		WriteError(w, http.StatusInternalServerError, "Failed to retrieve map")
		return
	}
	record = claimed

	file, err := os.Open(record.OutputPath)
	if err != nil {
		h.logger.Warn().Err(err).Str("request_id", record.ID).Str("path", record.OutputPath).Msg("Map output missing")
		h.removeUploads(record.ID)
		WriteError(w, http.StatusNotFound, "Unknown request id")
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ResultFilename))
	if info, err := file.Stat(); err == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	}
	http.SetCookie(w, &http.Cookie{Name: "DownloadComplete", Value: "1", Path: "/"})
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, file)
	if err != nil {
		h.logger.Warn().Err(err).Str("request_id", record.ID).Msg("Map download interrupted")
	}

	file.Close()
	h.removeOutput(record)
	h.removeUploads(record.ID)

	h.logger.Info().
		Str("request_id", record.ID).
		Int64("bytes", written).
		Msg("Map delivered")
}

// loadRecord resolves the request id and writes the error response when the
// job is unknown or failed
func (h *MapHandler) loadRecord(w http.ResponseWriter, r *http.Request) (*models.JobRecord, bool) {
	id := requestID(r)
	if !common.IsHexToken(id) {
		WriteError(w, http.StatusNotFound, "Unknown request id")
		return nil, false
	}

	record, err := h.store.Get(r.Context(), id)
	if errors.Is(err, interfaces.ErrJobNotFound) {
		WriteError(w, http.StatusNotFound, "Unknown request id")
		return nil, false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", id).Msg("Failed to load job")
		WriteError(w, http.StatusInternalServerError, "Failed to load job")
		return nil, false
	}

	if record.Stage == models.StageFailed {
		WriteError(w, http.StatusInternalServerError, "Map generation failed")
		return nil, false
	}
	return record, true
}

func (h *MapHandler) removeOutput(record *models.JobRecord) {
	if err := os.Remove(record.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.logger.Warn().Err(err).Str("path", record.OutputPath).Msg("Failed to remove delivered map")
	}
}

func (h *MapHandler) uploadDir(id string) string {
	return filepath.Join(h.config.Paths.UploadDir, id)
}

func (h *MapHandler) removeUploads(id string) {
	if err := os.RemoveAll(h.uploadDir(id)); err != nil {
		h.logger.Warn().Err(err).Str("request_id", id).Msg("Failed to remove uploads")
	}
}

// saveUploads stores the request's image and world file under the upload dir
func (h *MapHandler) saveUploads(r *http.Request, id string, params models.MapParams) (uploads *models.Uploads, err error) {
	image, imageHeader, err := formFile(r, "imgFile")
	if err != nil || image == nil {
		return nil, err
	}
	defer image.Close()

	if !hasExtension(imageHeader.Filename, imageExtensions) {
		return nil, &uploadError{msg: fmt.Sprintf("Unsupported image file %q", imageHeader.Filename)}
	}
	switch params.ImageType {
	case models.ImageTypeGeoTIFF, models.ImageTypeJPEG:
	default:
		return nil, &uploadError{msg: "imgType is required with an uploaded image"}
	}
	if params.ImageType == models.ImageTypeJPEG && params.ImageProjection == "" {
		return nil, &uploadError{msg: "imgProj is required for an image with a world file"}
	}

	dir := h.uploadDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	uploads = &models.Uploads{}
	if uploads.Image, err = saveFile(image, dir, imageHeader.Filename); err != nil {
		return nil, err
	}

	if params.ImageType != models.ImageTypeJPEG {
		return uploads, nil
	}

	world, worldHeader, err := formFile(r, "worldFile")
	if err != nil {
		return nil, err
	}
	if world == nil {
		return nil, &uploadError{msg: "worldFile is required for imgType j"}
	}
	defer world.Close()

	if !hasExtension(worldHeader.Filename, worldExtensions) {
		return nil, &uploadError{msg: fmt.Sprintf("Unsupported world file %q", worldHeader.Filename)}
	}
	if uploads.WorldFile, err = saveFile(world, dir, worldHeader.Filename); err != nil {
		return nil, err
	}
	return uploads, nil
}

// formFile returns nil when the field is absent or has no filename
func formFile(r *http.Request, name string) (multipart.File, *multipart.FileHeader, error) {
	if r.MultipartForm == nil {
		return nil, nil, nil
	}
	file, header, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if header.Filename == "" {
		file.Close()
		return nil, nil, nil
	}
	return file, header, nil
}

func saveFile(src io.Reader, dir, filename string) (string, error) {
	dest := filepath.Join(dir, safeFilename(filename))
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", dest, err)
	}
	return dest, nil
}

// safeFilename reduces a client file name to a plain base name
func safeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := filepath.Ext(base)
	stem := unsafeFilenameChars.ReplaceAllString(strings.TrimSuffix(base, ext), "_")
	stem = strings.Trim(stem, "._")
	if stem == "" {
		stem = "upload"
	}
	return stem + strings.ToLower(ext)
}

func hasExtension(name string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

func parseRequestForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(maxMemoryBytes)
	}
	return r.ParseForm()
}
