package services

import "errors"

// Sentinel errors the transport layer maps to API responses.
var (
	ErrDatasetNotFound      = errors.New("dataset not found")
	ErrSegmentationNotFound = errors.New("segmentation not found")
	ErrDatasetNotCleaned    = errors.New("dataset has not been cleaned yet")
	ErrDatasetTypeMismatch  = errors.New("dataset type does not match the requested role")
	ErrUnsupportedFile      = errors.New("unsupported file format")
)
