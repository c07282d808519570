package backend

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cropai-api/internal/model"
)

// MetadataVersion is the current label artifact format.
const MetadataVersion = 1

// DefaultImageSize is the training-time resize target.
const DefaultImageSize = 256

// Artifacts resolves weight and label files under a model directory laid out
// as <dir>/<arch>/<arch>.{onnx,pth,json}.
type Artifacts struct {
	Dir string
}

func (a Artifacts) WeightPath(arch model.Architecture, kind model.BackendKind) string {
	ext := ".onnx"
	if kind == model.BackendEager {
		ext = ".pth"
	}
	return filepath.Join(a.Dir, string(arch), string(arch)+ext)
}

func (a Artifacts) MetadataPath(arch model.Architecture) string {
	return filepath.Join(a.Dir, string(arch), string(arch)+".json")
}

// Require returns the weight path, failing when the file is absent.
func (a Artifacts) Require(arch model.Architecture, kind model.BackendKind) (string, error) {
	path := a.WeightPath(arch, kind)
	info, err := os.Stat(path)
	if err != nil {
		return "", model.Wrap(model.ErrModelUnavailable, err, "%s %s weights", arch, kind)
	}
	if info.IsDir() || info.Size() == 0 {
		return "", model.Wrap(model.ErrModelUnavailable, nil, "%s %s weights at %s are empty", arch, kind, path)
	}
	return path, nil
}

// ReadMetadata reads the label artifact for arch and upgrades older formats
// to MetadataVersion. A missing file is treated as a version 0 artifact:
// the built-in label table and the default image size.
func ReadMetadata(path string, arch model.Architecture) (model.Metadata, error) {
	var meta model.Metadata

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		zap.L().Warn("label artifact missing; using built-in disease classes",
			zap.String("architecture", string(arch)),
			zap.String("path", path),
		)
	case err != nil:
		return meta, model.Wrap(model.ErrModelUnavailable, err, "read label artifact")
	default:
		if err := json.Unmarshal(data, &meta); err != nil {
			return meta, model.Wrap(model.ErrModelUnavailable, err, "parse label artifact %s", path)
		}
	}

	if meta.Architecture != "" && meta.Architecture != string(arch) {
		return meta, model.Wrap(model.ErrModelUnavailable, nil,
			"label artifact %s belongs to %q, not %q", path, meta.Architecture, arch)
	}

	meta = upgradeMetadata(meta, arch)
	if meta.ImageSize <= 0 || len(meta.Classes) == 0 {
		return meta, model.Wrap(model.ErrModelUnavailable, nil,
			"label artifact %s: image_size %d with %d classes", path, meta.ImageSize, len(meta.Classes))
	}
	return meta, nil
}

func upgradeMetadata(meta model.Metadata, arch model.Architecture) model.Metadata {
	if meta.Version >= MetadataVersion {
		return meta
	}
	meta.Architecture = string(arch)
	if meta.ImageSize == 0 {
		meta.ImageSize = DefaultImageSize
		if n := len(meta.InputShape); n == 4 && meta.InputShape[n-1] > 0 {
			meta.ImageSize = int(meta.InputShape[n-1])
		}
	}
	if len(meta.Classes) == 0 {
		meta.Classes = model.DiseaseClasses
	}
	if len(meta.InputShape) == 0 {
		s := int64(meta.ImageSize)
		meta.InputShape = []int64{1, 3, s, s}
	}
	if len(meta.OutputShape) == 0 {
		meta.OutputShape = []int64{1, int64(len(meta.Classes))}
	}
	meta.Version = MetadataVersion
	return meta
}

// reconcileClasses checks the label table against the class count the loaded
// weights report. The weights win; a mismatch is logged so a mispaired
// artifact is visible instead of silently mislabelling predictions.
func reconcileClasses(classes []string, weightClasses int, arch model.Architecture, kind model.BackendKind) int {
	if weightClasses <= 0 {
		return len(classes)
	}
	if weightClasses != len(classes) {
		zap.L().Warn("class count mismatch between weights and label artifact",
			zap.String("architecture", string(arch)),
			zap.String("backend", string(kind)),
			zap.Int("weights", weightClasses),
			zap.Int("labels", len(classes)),
		)
	}
	return weightClasses
}

func lastDim(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	return shape[len(shape)-1]
}

var errNoIO = eris.New("model declares no inputs or outputs")
