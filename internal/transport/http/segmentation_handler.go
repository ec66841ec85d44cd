package http

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "profusion/internal/errors"
	custommw "profusion/internal/middleware"
	"profusion/internal/services"
)

// SegmentationHandler handles segmentation-related HTTP requests.
type SegmentationHandler struct {
	service *services.SegmentationService
	logger  *slog.Logger
}

// NewSegmentationHandler creates a new segmentation handler.
func NewSegmentationHandler(service *services.SegmentationService, logger *slog.Logger) *SegmentationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentationHandler{
		service: service,
		logger:  logger.With(slog.String("component", "segmentation_handler")),
	}
}

// Routes returns the segmentation routes.
func (h *SegmentationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/prepare", h.Prepare)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/columns", h.Columns)
		r.Get("/download", h.Download)
	})

	return r
}

// Prepare handles POST /api/segmentations/prepare.
func (h *SegmentationHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	var req services.PrepareRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.InvalidRequestWithError(err)))
		return
	}

	result, err := h.service.Prepare(r.Context(), uid, req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "prepare failed",
			slog.String("request_id", custommw.GetReqID(r.Context())),
			slog.String("error", err.Error()))
		renderError(w, r, err)
		return
	}

	if result.Reused {
		render.Status(r, http.StatusOK)
	} else {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, result)
}

// Get handles GET /api/segmentations/{id}.
func (h *SegmentationHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	seg, err := h.service.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, seg)
}

// Columns handles GET /api/segmentations/{id}/columns.
func (h *SegmentationHandler) Columns(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	columns, err := h.service.Columns(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"columns": columns})
}

// Download handles GET /api/segmentations/{id}/download, streaming the
// merged CSV.
func (h *SegmentationHandler) Download(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	src, filename, err := h.service.OpenMerged(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	defer src.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := io.Copy(w, src); err != nil {
		h.logger.ErrorContext(r.Context(), "download interrupted",
			slog.String("error", err.Error()))
	}
}
