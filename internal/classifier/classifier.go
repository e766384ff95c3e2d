// Package classifier wraps a fixed convolutional tomato-leaf model behind a
// small Predictor interface: preprocessed tensor in, one raw score per label
// out. Thresholding happens separately in Decide.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	// ErrDecode marks image bytes that could not be decoded. Callers turn
	// this into a user-visible "please resend" message.
	ErrDecode = errors.New("image decode failed")

	// ErrModelLoad marks a checkpoint that does not match the expected
	// architecture. Fatal at startup; the service must not serve traffic
	// with a half-loaded model.
	ErrModelLoad = errors.New("model load failed")
)

// DefaultLabels is the label order the deployed checkpoint was trained with:
// eight disease categories plus healthy. Used by the mock predictor; the real
// predictor always takes its labels from the checkpoint metadata.
var DefaultLabels = []string{
	"Tomato_Bacterial_spot",
	"Tomato_Early_blight",
	"Tomato_Late_blight",
	"Tomato_Leaf_Mold",
	"Tomato_Septoria_leaf_spot",
	"Tomato_Spider_mites_Two_spotted_spider_mite",
	"Tomato__Target_Spot",
	"Tomato__Tomato_YellowLeaf__Curl_Virus",
	"Tomato_healthy",
}

// Predictor exposes the minimal inference surface used by the diagnosis flow.
type Predictor interface {
	// Predict runs one forward pass and returns the unnormalized score per
	// label. Deterministic: identical tensors yield identical scores.
	Predict(ctx context.Context, tensor []float32) ([]float32, error)
	Labels() []string
	InputSize() int
	Close()
}

// Metadata describes the checkpoint sidecar file shipped next to the ONNX
// weights: tensor shapes, the ordered label list, and the input resolution.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

// LoadMetadata reads and validates the checkpoint metadata file.
func LoadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrModelLoad, err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: parse metadata: %v", ErrModelLoad, err)
	}
	if err := meta.validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (m *Metadata) validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("%w: metadata has no classes", ErrModelLoad)
	}
	if len(m.OutputShape) == 0 {
		return fmt.Errorf("%w: metadata has no output shape", ErrModelLoad)
	}
	// The head width must equal the label count exactly. Never truncate or
	// pad: a mismatch means weights and labels are from different runs.
	if width := m.OutputShape[len(m.OutputShape)-1]; width != int64(len(m.Classes)) {
		return fmt.Errorf("%w: output width %d does not match %d labels", ErrModelLoad, width, len(m.Classes))
	}
	if len(m.InputShape) != 4 {
		return fmt.Errorf("%w: expected NCHW input shape, got %v", ErrModelLoad, m.InputShape)
	}
	if m.ImageSize == 0 {
		m.ImageSize = 224
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	return nil
}

func (m *Metadata) tensorLen(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// ONNXPredictor runs the checkpoint through onnxruntime. The session reuses
// pre-allocated input and output tensors, so Run is serialized with a mutex;
// the weights themselves are read-only after load.
type ONNXPredictor struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	meta         *Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNXPredictor loads the weights and metadata once, at startup. Any
// shape or file problem is ErrModelLoad and must abort the process.
func NewONNXPredictor(modelPath, metadataPath string) (*ONNXPredictor, error) {
	meta, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: initialize onnxruntime: %v", ErrModelLoad, err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("%w: create input tensor: %v", ErrModelLoad, err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("%w: create output tensor: %v", ErrModelLoad, err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("%w: create session: %v", ErrModelLoad, err)
	}

	return &ONNXPredictor{
		session:      session,
		meta:         meta,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Predict copies the tensor in, runs the session, and copies the scores out.
func (p *ONNXPredictor) Predict(ctx context.Context, tensor []float32) ([]float32, error) {
	if want := p.meta.tensorLen(p.meta.InputShape); len(tensor) != want {
		return nil, fmt.Errorf("input tensor has %d values, model expects %d", len(tensor), want)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	copy(p.inputTensor.GetData(), tensor)
	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := p.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

// Labels returns the checkpoint's ordered label list.
func (p *ONNXPredictor) Labels() []string {
	return p.meta.Classes
}

// InputSize returns the square input resolution the model expects.
func (p *ONNXPredictor) InputSize() int {
	return p.meta.ImageSize
}

// Close releases the onnxruntime resources.
func (p *ONNXPredictor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
		p.inputTensor = nil
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
		p.outputTensor = nil
	}
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	ort.DestroyEnvironment()
}
