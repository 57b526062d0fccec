//go:build !cgo
// +build !cgo

package vectorize

import (
	"errors"

	"github.com/hyperjump/ruiji/internal/models"
)

// ONNX stub type when built without CGO (see onnx.go for the real implementation).
type ONNX struct{}

// NewONNX returns an error when built without CGO (ONNX not available).
func NewONNX(_ string, _ int) (*ONNX, error) {
	return nil, errors.New("ONNX vectorizer requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

// Name returns the strategy identifier.
func (o *ONNX) Name() string { return "onnx" }

// Vectorize is not implemented without ONNX.
func (o *ONNX) Vectorize(s *models.Spectrum) (models.SparseVector, PeakStats) {
	return models.SparseVector{}, ComputeStats(s)
}

// Close is a no-op without ONNX.
func (o *ONNX) Close() error { return nil }
