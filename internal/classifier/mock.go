package classifier

import "context"

// MockPredictor is the explicit canned-result mode (MODEL_MODE=mock). It
// exists for demos and for environments without the onnxruntime shared
// library; startup logs a warning so canned output is never mistaken for a
// real diagnosis.
type MockPredictor struct {
	labels []string
	label  string
}

// NewMockPredictor returns a predictor that always scores the given label
// highest. The label must be in the list; otherwise the first label is used.
func NewMockPredictor(labels []string, label string) *MockPredictor {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	found := false
	for _, l := range labels {
		if l == label {
			found = true
			break
		}
	}
	if !found {
		label = labels[0]
	}
	return &MockPredictor{labels: labels, label: label}
}

// Predict returns a fixed score vector with the canned label far ahead.
// The margin puts the softmax confidence well above any sane threshold.
func (m *MockPredictor) Predict(ctx context.Context, tensor []float32) ([]float32, error) {
	scores := make([]float32, len(m.labels))
	for i, l := range m.labels {
		if l == m.label {
			scores[i] = 12
		}
	}
	return scores, nil
}

// Labels returns the configured label list.
func (m *MockPredictor) Labels() []string {
	return m.labels
}

// InputSize matches the real model's input contract.
func (m *MockPredictor) InputSize() int {
	return 224
}

// Close is a no-op.
func (m *MockPredictor) Close() {}
