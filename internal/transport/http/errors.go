package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"profusion/internal/dataset"
	apierrors "profusion/internal/errors"
	"profusion/internal/fusion"
	"profusion/internal/services"
	"profusion/internal/tabular"
)

// mapError translates service and domain errors into API errors.
func mapError(err error) *apierrors.APIError {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var schemaErr *dataset.SchemaError
	if errors.As(err, &schemaErr) {
		return apierrors.SchemaErrorWithDetails(schemaErr.Missing, schemaErr.Extra)
	}
	var formatErr *tabular.FormatError
	if errors.As(err, &formatErr) {
		return apierrors.NewWithDetails(http.StatusBadRequest, "FORMAT_INVALID", "File is not valid tabular data", formatErr.Msg)
	}
	var mergeErr *fusion.MergeError
	if errors.As(err, &mergeErr) {
		return apierrors.NewWithDetails(http.StatusUnprocessableEntity, "MERGE_FAILED", "Datasets cannot be fused", mergeErr.Msg)
	}

	switch {
	case errors.Is(err, services.ErrDatasetNotFound):
		return apierrors.ErrDatasetNotFound
	case errors.Is(err, services.ErrSegmentationNotFound):
		return apierrors.NotFoundError("Segmentation")
	case errors.Is(err, services.ErrDatasetNotCleaned):
		return apierrors.NewWithDetails(http.StatusUnprocessableEntity, "DATASET_NOT_CLEANED", "Dataset has not been cleaned yet", err.Error())
	case errors.Is(err, services.ErrDatasetTypeMismatch):
		return apierrors.NewWithDetails(http.StatusBadRequest, "DATASET_TYPE_MISMATCH", "Dataset type does not match the requested role", err.Error())
	case errors.Is(err, services.ErrUnsupportedFile):
		return apierrors.NewWithDetails(http.StatusBadRequest, "UNSUPPORTED_FILE", "Unsupported file format", err.Error())
	default:
		return apierrors.ErrInternalServer
	}
}

// renderError writes the mapped error response.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	render.Render(w, r, apierrors.NewErrorResponse(mapError(err)))
}
