package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/processor"
	"media-pipeline/internal/storage"

	"github.com/gorilla/mux"
)

// multipart parts up to this size are kept in memory
const uploadMemory = 32 << 20

// DeleteAssetsRequest is the body of DELETE /api/assets.
type DeleteAssetsRequest struct {
	IDs []string `json:"ids"`
}

// UploadAsset stores the "assetData" part of a multipart form as a new
// asset of "ownerId". It answers 201 for a new asset and 200 with
// duplicate=true when the owner already had the content.
func (h *Handlers) UploadAsset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		writeJSONError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logging.Warn("failed to remove multipart temp files: %v", err)
		}
	}()

	owner := r.FormValue("ownerId")
	if owner == "" {
		writeJSONError(w, "ownerId is required", http.StatusBadRequest)
		return
	}
	if err := storage.ValidateOwnerID(owner); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("assetData")
	if err != nil {
		writeJSONError(w, "assetData file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	req := processor.UploadRequest{
		OwnerID:       owner,
		DeviceAssetID: r.FormValue("deviceAssetId"),
		DeviceID:      r.FormValue("deviceId"),
		FileName:      header.Filename,
		Body:          file,
	}
	if req.FileCreatedAt, err = formTime(r, "fileCreatedAt"); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.FileModifiedAt, err = formTime(r, "fileModifiedAt"); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.processor.Upload(r.Context(), req)
	switch {
	case err == nil && result.Duplicate:
		writeJSON(w, http.StatusOK, result)
	case err == nil:
		writeJSON(w, http.StatusCreated, result)
	case errors.Is(err, processor.ErrUnsupportedMedia), errors.Is(err, storage.ErrInvalidOwner):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	default:
		logging.Error("Upload of %s failed: %v", header.Filename, err)
		writeJSONError(w, "upload failed", http.StatusInternalServerError)
	}
}

// formTime parses an optional RFC 3339 form value.
func formTime(r *http.Request, field string) (time.Time, error) {
	v := r.FormValue(field)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New(field + " must be an RFC 3339 timestamp")
	}
	return t, nil
}

// DeleteAssets removes assets and reports a result per id.
func (h *Handlers) DeleteAssets(w http.ResponseWriter, r *http.Request) {
	var req DeleteAssetsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		writeJSONError(w, "ids must not be empty", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.processor.Delete(r.Context(), req.IDs))
}

// GetThumbnail streams the jpeg thumbnail of an asset, or the webp one
// with ?format=webp.
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	asset, err := h.assets.GetAsset(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeJSONError(w, "asset not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Error("Failed to load asset %s: %v", id, err)
		writeJSONError(w, "failed to load asset", http.StatusInternalServerError)
		return
	}

	path, mimeType := asset.ResizePath, "image/jpeg"
	switch r.URL.Query().Get("format") {
	case "", "jpeg":
	case "webp":
		path, mimeType = asset.WebpPath, "image/webp"
	default:
		writeJSONError(w, "format must be jpeg or webp", http.StatusBadRequest)
		return
	}
	if path == "" {
		writeJSONError(w, "thumbnail not generated yet", http.StatusNotFound)
		return
	}

	stream, err := h.storage.CreateReadStream(path, mimeType)
	if err != nil {
		logging.Warn("Thumbnail %s of asset %s unreadable: %v", path, id, err)
		writeJSONError(w, "thumbnail not found", http.StatusNotFound)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", stream.Type)
	w.Header().Set("Content-Length", strconv.FormatInt(stream.Length, 10))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, stream); err != nil {
		logging.Debug("Thumbnail stream of %s aborted: %v", id, err)
	}
}
