//go:build cgo
// +build cgo

package vectorize

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/pkg/utils"
)

// onnxMaxPeaks is the fixed peak capacity of the model input tensor;
// spectra with more peaks keep their most intense ones.
const onnxMaxPeaks = 512

// ONNX embeds spectra with an ONNX model mapping a padded (m/z, intensity)
// tensor to a dense embedding. Requires CGO and the onnxruntime library.
type ONNX struct {
	session      *ort.AdvancedSession
	dimension    int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNX creates an ONNX-backed vectorizer from the model at modelPath.
func NewONNX(modelPath string, dimension int) (*ONNX, error) {
	if dimension <= 0 {
		dimension = DefaultEmbeddingDimension
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	inputData := make([]float32, onnxMaxPeaks*2)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, onnxMaxPeaks, 2), inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create peaks tensor: %w", err)
	}
	outputData := make([]float32, dimension)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dimension)), outputData)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"peaks"},
		[]string{"embedding"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNX{
		session:      session,
		dimension:    dimension,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Name returns the strategy identifier.
func (o *ONNX) Name() string { return "onnx" }

// Vectorize runs inference and rewrites the dense embedding as sparse
// onnx:<i> tokens so downstream cosine scoring is unchanged. Inference
// failures fall back to the hashed embedding so vectorization stays total.
func (o *ONNX) Vectorize(s *models.Spectrum) (models.SparseVector, PeakStats) {
	stats := ComputeStats(s)
	if stats.PeakCount == 0 {
		return models.SparseVector{}, stats
	}

	o.mu.Lock()
	input := o.inputTensor.GetData()
	for i := range input {
		input[i] = 0
	}
	for i, p := range topPeaks(s.Peaks, onnxMaxPeaks) {
		input[i*2] = float32(p.MZ)
		input[i*2+1] = float32(p.Intensity)
	}
	err := o.session.Run()
	var embedding []float32
	if err == nil {
		out := o.outputTensor.GetData()
		embedding = make([]float32, o.dimension)
		copy(embedding, out[:o.dimension])
	}
	o.mu.Unlock()

	if err != nil {
		vec, _ := NewEmbedding(o.dimension).Vectorize(s)
		return vec, stats
	}

	utils.NormalizeL2(embedding)
	vec := make(models.SparseVector)
	for i, w := range embedding {
		if w != 0 {
			vec[fmt.Sprintf("onnx:%d", i)] = float64(w)
		}
	}
	return vec, stats
}

// Close releases the session and tensors.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	if o.inputTensor != nil {
		o.inputTensor.Destroy()
		o.inputTensor = nil
	}
	if o.outputTensor != nil {
		o.outputTensor.Destroy()
		o.outputTensor = nil
	}
	return nil
}

// topPeaks returns up to n peaks, most intense first, in stable order.
func topPeaks(peaks []models.Peak, n int) []models.Peak {
	if len(peaks) <= n {
		return peaks
	}
	out := make([]models.Peak, len(peaks))
	copy(out, peaks)
	for i := 0; i < n; i++ {
		best := i
		for j := i + 1; j < len(out); j++ {
			if out[j].Intensity > out[best].Intensity {
				best = j
			}
		}
		out[i], out[best] = out[best], out[i]
	}
	return out[:n]
}
