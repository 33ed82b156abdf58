package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"image-uploader-go/internal/batch"
	"image-uploader-go/internal/catalog"
	"image-uploader-go/internal/media"
	"image-uploader-go/internal/presets"
	"image-uploader-go/internal/source"
	"image-uploader-go/internal/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// multipartMemory is how much of a multipart body is held in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, fmt.Sprintf("Upload exceeds %d MB", s.cfg.Server.MaxUploadMB), http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	preset, err := s.deps.Presets.Get(r.FormValue("preset"))
	if err != nil {
		if errors.Is(err, presets.ErrUnknownPreset) {
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	folder := r.FormValue("folder")
	if folder == "" {
		folder = preset.Folder
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.writeError(w, "At least one file is required", http.StatusBadRequest)
		return
	}

	inputs := make([]media.RawInput, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, fmt.Sprintf("Failed to read %s", fh.Filename), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.writeError(w, fmt.Sprintf("Failed to read %s", fh.Filename), http.StatusBadRequest)
			return
		}
		mimeType := source.DetectMimeType(fh.Filename, fh.Header.Get("Content-Type"), data)
		inputs = append(inputs, media.NewRawInput(fh.Filename, mimeType, data))
	}

	batchID := uuid.NewString()
	ctx := batch.ContextWithBatchID(r.Context(), batchID)
	if timeout := s.cfg.Server.UploadTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.activeBatches.Add(1)
	defer s.activeBatches.Add(-1)

	s.broadcastWSMessage("batch_started", map[string]interface{}{
		"batch_id": batchID,
		"preset":   preset.Name,
		"folder":   folder,
		"files":    len(inputs),
	})

	result, err := s.deps.Coordinator.Run(ctx, inputs, folder, preset.Rules, preset.Transcode, func(items []batch.Progress) {
		s.broadcastWSMessage("batch_progress", map[string]interface{}{
			"batch_id": batchID,
			"items":    items,
		})
	})
	if err != nil {
		s.broadcastWSMessage("batch_error", map[string]interface{}{
			"batch_id": batchID,
			"error":    err.Error(),
		})
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.broadcastWSMessage("batch_completed", map[string]interface{}{
		"batch_id":      batchID,
		"success_count": result.SuccessCount,
		"error_count":   result.ErrorCount,
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("%d of %d files uploaded", result.SuccessCount, len(result.Items)),
		Data:    result,
	})
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.deps.Library.List(r.Context(), r.URL.Query().Get("folder"))
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to list assets: %v", err), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    assets,
	})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.deps.Library.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeAssetError(w, err)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    asset,
	})
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Library.Delete(r.Context(), id); err != nil {
		s.writeAssetError(w, err)
		return
	}

	s.broadcastWSMessage("asset_deleted", map[string]interface{}{"id": id})
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Asset deleted",
	})
}

func (s *Server) writeAssetError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, "Asset not found", http.StatusNotFound)
		return
	}
	s.writeError(w, err.Error(), http.StatusInternalServerError)
}

// handleMedia serves stored objects for backends that can read them back.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	reader, ok := storage.AsReader(s.deps.Store)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data, contentType, err := reader.Get(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.log.Errorf("Failed to read stored object: %v", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	if contentType == "" {
		contentType = media.MimeTypeForExtension(mux.Vars(r)["key"])
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if r.Method == http.MethodHead {
		return
	}
	w.Write(data)
}
