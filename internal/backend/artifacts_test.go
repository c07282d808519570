package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/cropai-api/internal/model"
)

func TestArtifactPaths(t *testing.T) {
	a := Artifacts{Dir: "/srv/models"}
	assert.Equal(t, "/srv/models/resnet9/resnet9.onnx", a.WeightPath(model.ResNet9, model.BackendGraph))
	assert.Equal(t, "/srv/models/resnet9/resnet9.pth", a.WeightPath(model.ResNet9, model.BackendEager))
	assert.Equal(t, "/srv/models/resnet50/resnet50.json", a.MetadataPath(model.ResNet50))
}

func TestRequire(t *testing.T) {
	dir := t.TempDir()
	a := Artifacts{Dir: dir}

	_, err := a.Require(model.ResNet9, model.BackendGraph)
	assert.True(t, errors.Is(err, model.ErrModelUnavailable))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "resnet9"), 0o755))
	path := a.WeightPath(model.ResNet9, model.BackendGraph)
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err = a.Require(model.ResNet9, model.BackendGraph)
	assert.True(t, errors.Is(err, model.ErrModelUnavailable), "empty file")

	require.NoError(t, os.WriteFile(path, []byte("onnx"), 0o644))
	got, err := a.Require(model.ResNet9, model.BackendGraph)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestReadMetadataMissingUsesDefaults(t *testing.T) {
	meta, err := ReadMetadata(filepath.Join(t.TempDir(), "nope.json"), model.ResNet18)
	require.NoError(t, err)

	assert.Equal(t, MetadataVersion, meta.Version)
	assert.Equal(t, "resnet18", meta.Architecture)
	assert.Equal(t, DefaultImageSize, meta.ImageSize)
	assert.Equal(t, model.DiseaseClasses, meta.Classes)
	assert.Equal(t, []int64{1, 3, 256, 256}, meta.InputShape)
	assert.Equal(t, []int64{1, 38}, meta.OutputShape)
}

func TestReadMetadataUpgradesLegacy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resnet9.json")
	legacy := `{"input_shape":[1,3,224,224],"classes":["Tomato___healthy","Tomato___Leaf_Mold"]}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	meta, err := ReadMetadata(path, model.ResNet9)
	require.NoError(t, err)
	assert.Equal(t, 224, meta.ImageSize)
	assert.Equal(t, []string{"Tomato___healthy", "Tomato___Leaf_Mold"}, meta.Classes)
	assert.Equal(t, []int64{1, 2}, meta.OutputShape)
	assert.Equal(t, MetadataVersion, meta.Version)
}

func TestReadMetadataRejectsOtherArchitecture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resnet9.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"architecture":"resnet50"}`), 0o644))

	_, err := ReadMetadata(path, model.ResNet9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrModelUnavailable))
}

func TestReadMetadataRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resnet9.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"classes": [`), 0o644))

	_, err := ReadMetadata(path, model.ResNet9)
	assert.True(t, errors.Is(err, model.ErrModelUnavailable))
}

func TestReconcileClassesTrustsWeights(t *testing.T) {
	assert.Equal(t, 38, reconcileClasses(model.DiseaseClasses, 0, model.ResNet9, model.BackendGraph))
	assert.Equal(t, 40, reconcileClasses(model.DiseaseClasses, 40, model.ResNet9, model.BackendGraph))
}

func TestONNXLoadMissingWeights(t *testing.T) {
	l := NewONNXLoader(Artifacts{Dir: t.TempDir()}, ONNXConfig{})
	assert.Equal(t, model.BackendGraph, l.Kind())

	_, err := l.Load(context.Background(), model.ResNet9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrModelUnavailable))
}

func TestReadMetadataRejectsIncompleteCurrentVersion(t *testing.T) {
	for name, body := range map[string]string{
		"no image size": `{"version":1,"classes":["Tomato___healthy"]}`,
		"no classes":    `{"version":1,"image_size":256}`,
		"bare version":  `{"version":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "resnet9.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			_, err := ReadMetadata(path, model.ResNet9)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrModelUnavailable))
		})
	}

	path := filepath.Join(t.TempDir(), "resnet9.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"image_size":128,"classes":["Tomato___healthy"]}`), 0o644))
	meta, err := ReadMetadata(path, model.ResNet9)
	require.NoError(t, err)
	assert.Equal(t, 128, meta.ImageSize)
}
