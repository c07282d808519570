package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/cropai-api/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	imgID, err := s.RecordImage(ctx, &model.PredictionResult{
		PredictedClass: "Tomato___Late_blight",
		PlantName:      "Tomato",
		DiseaseStatus:  "Late blight",
		ClassIndex:     30,
		Confidence:     0.93,
		IsConfident:    true,
		ModelUsed:      "resnet9",
		InferenceType:  model.BackendGraph,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, imgID)

	cropID, err := s.RecordCrop(ctx, &model.CropPrediction{
		Prediction: "rice",
		Inputs:     model.CropFeatures{Nitrogen: 90, Temperature: 25},
		Location:   model.Location{Lat: 13, Lon: 77.6},
	})
	require.NoError(t, err)
	assert.NotEqual(t, imgID, cropID)

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, cropID, recs[0].ID)
	assert.Equal(t, KindCrop, recs[0].Kind)
	var crop model.CropPrediction
	require.NoError(t, json.Unmarshal(recs[0].Payload, &crop))
	assert.Equal(t, "rice", crop.Prediction)

	assert.Equal(t, imgID, recs[1].ID)
	assert.Equal(t, KindImage, recs[1].Kind)
	assert.Equal(t, "resnet9/graph", recs[1].Model)
}

func TestRecentLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.RecordCrop(ctx, &model.CropPrediction{Prediction: "maize"})
		require.NoError(t, err)
	}

	recs, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestRecordNil(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RecordImage(context.Background(), nil)
	assert.Error(t, err)
	_, err = s.RecordCrop(context.Background(), nil)
	assert.Error(t, err)
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.RecordCrop(ctx, &model.CropPrediction{Prediction: "jute"})
		require.NoError(t, err)
	}

	n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
