package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"profusion/internal/dataset"
	apierrors "profusion/internal/errors"
	custommw "profusion/internal/middleware"
	"profusion/internal/services"
)

const defaultPreviewRows = 100

// DatasetHandler handles dataset-related HTTP requests.
type DatasetHandler struct {
	service        *services.DatasetService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(service *services.DatasetService, maxUploadBytes int64, logger *slog.Logger) *DatasetHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatasetHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("component", "dataset_handler")),
	}
}

// Routes returns the dataset routes.
func (h *DatasetHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/", h.List)
	r.Get("/counts", h.Counts)
	// Upload lives under a literal prefix so the {type} wildcard cannot
	// collide with the {id} subtree below.
	r.Post("/upload/{type}", h.Upload)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/preview", h.Preview)
		r.Delete("/", h.Delete)
		r.Post("/clean", h.Clean)
		r.Get("/status", h.Status)
	})

	return r
}

// Upload handles POST /api/datasets/upload/{type}. The file arrives as
// multipart form data under the "file" field.
func (h *DatasetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	t, err := dataset.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.ErrValidation("type", "Dataset type must be customer or order")))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.InvalidRequestWithError(err)))
		return
	}
	defer file.Close()

	result, err := h.service.Upload(r.Context(), uid, t, header.Filename, file)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "upload rejected",
			slog.String("request_id", custommw.GetReqID(r.Context())),
			slog.String("type", string(t)),
			slog.String("error", err.Error()))
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

// List handles GET /api/datasets.
func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	datasets, err := h.service.List(r.Context(), uid)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"datasets": datasets})
}

// Counts handles GET /api/datasets/counts.
func (h *DatasetHandler) Counts(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	counts, err := h.service.Count(r.Context(), uid)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, counts)
}

// Preview handles GET /api/datasets/{id}/preview?rows=N.
func (h *DatasetHandler) Preview(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	limit := defaultPreviewRows
	if raw := r.URL.Query().Get("rows"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			render.Render(w, r, apierrors.NewErrorResponse(
				apierrors.ErrValidation("rows", "Row limit must be a positive integer")))
			return
		}
		limit = n
	}

	preview, err := h.service.PreviewRows(r.Context(), uid, chi.URLParam(r, "id"), limit)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, preview)
}

// Delete handles DELETE /api/datasets/{id}.
func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	if err := h.service.Delete(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{"success": true})
}

// Clean handles POST /api/datasets/{id}/clean. The run proceeds in the
// background; its progress streams over the progress channel.
func (h *DatasetHandler) Clean(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	ds, err := h.service.Clean(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]interface{}{
		"datasetId": ds.ID,
		"state":     h.service.CleaningState(ds.ID),
	})
}

// Status handles GET /api/datasets/{id}/status.
func (h *DatasetHandler) Status(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}

	ds, err := h.service.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"datasetId": ds.ID,
		"clean":     ds.Clean,
		"state":     h.service.CleaningState(ds.ID),
	})
}
