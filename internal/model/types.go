package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Architecture names a CNN structure with its own weight files.
type Architecture string

const (
	ResNet9  Architecture = "resnet9"
	ResNet18 Architecture = "resnet18"
	ResNet50 Architecture = "resnet50"
)

// Architectures lists every architecture the registry can serve.
var Architectures = []Architecture{ResNet9, ResNet18, ResNet50}

// ParseArchitecture maps a caller-supplied name onto the enumerated set.
func ParseArchitecture(name string) (Architecture, error) {
	a := Architecture(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Architectures {
		if a == known {
			return a, nil
		}
	}
	return "", eris.Wrapf(ErrUnsupportedArchitecture, "architecture %q", name)
}

// BackendKind is the runtime that executes a forward pass.
type BackendKind string

const (
	BackendGraph BackendKind = "graph"
	BackendEager BackendKind = "eager"
)

// ParseBackendKind accepts the canonical names plus the runtime aliases
// callers tend to send ("onnx", "pytorch").
func ParseBackendKind(name string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "graph", "onnx":
		return BackendGraph, nil
	case "eager", "pytorch", "torch":
		return BackendEager, nil
	default:
		return "", eris.Wrapf(ErrInvalidInput, "unknown backend %q", name)
	}
}

type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// HandleInfo describes a loaded model. It never changes after load.
type HandleInfo struct {
	Architecture Architecture `json:"architecture"`
	Backend      BackendKind  `json:"backend"`
	ClassCount   int          `json:"class_count"`
	Device       Device       `json:"device"`
	InputSize    int          `json:"input_size"`
	Classes      []string     `json:"-"`
}

// Metadata is the label artifact stored next to each weight file.
type Metadata struct {
	Version      int      `json:"version"`
	Architecture string   `json:"architecture"`
	InputShape   []int64  `json:"input_shape"`
	OutputShape  []int64  `json:"output_shape"`
	Classes      []string `json:"classes"`
	ImageSize    int      `json:"image_size"`
}

type PredictionResult struct {
	PredictedClass string      `json:"predicted_class"`
	PlantName      string      `json:"plant_name"`
	DiseaseStatus  string      `json:"disease_status"`
	ClassIndex     int         `json:"class_index"`
	Confidence     float64     `json:"confidence"`
	IsConfident    bool        `json:"is_confident"`
	ModelUsed      string      `json:"model_used"`
	InferenceType  BackendKind `json:"inference_type"`
}

// BatchItem holds the outcome for one input of a batch prediction. Exactly
// one of Result and Error is set.
type BatchItem struct {
	Index    int               `json:"index"`
	Filename string            `json:"filename,omitempty"`
	Result   *PredictionResult `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// CropFeatures is the tabular model's input row. Field order is the order the
// model was trained on and must not change.
type CropFeatures struct {
	Nitrogen    float64 `json:"nitrogen"`
	Phosphorous float64 `json:"phosphorous"`
	Potassium   float64 `json:"potassium"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	PH          float64 `json:"ph"`
	Rainfall    float64 `json:"rainfall"`
}

// CropFeatureCount is the width of CropFeatures.Vector.
const CropFeatureCount = 7

func (f CropFeatures) Vector() []float64 {
	return []float64{
		f.Nitrogen,
		f.Phosphorous,
		f.Potassium,
		f.Temperature,
		f.Humidity,
		f.PH,
		f.Rainfall,
	}
}

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type CropPrediction struct {
	Prediction string       `json:"prediction"`
	Inputs     CropFeatures `json:"inputs"`
	Location   Location     `json:"location"`
}

// Route is the capability a free-text query resolves to.
type Route string

const (
	RouteDisease  Route = "disease"
	RouteAdvisory Route = "advisory"
)
