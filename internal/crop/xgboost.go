package crop

import (
	"math"

	"github.com/dmitryikh/leaves"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cropai-api/internal/model"
)

// Model predicts a crop class index from one feature row.
type Model interface {
	PredictClass(features []float64) (int, error)
}

// XGBoostModel wraps a gradient-boosted ensemble saved in XGBoost's binary
// model format. Ensembles are read-only, so one instance serves concurrent
// requests.
type XGBoostModel struct {
	ensemble *leaves.Ensemble
	groups   int
}

// LoadXGBoost reads an XGBoost model file and checks it takes the seven
// crop features.
func LoadXGBoost(path string) (*XGBoostModel, error) {
	ensemble, err := leaves.XGEnsembleFromFile(path, true)
	if err != nil {
		return nil, eris.Wrapf(err, "crop: load xgboost model %s", path)
	}
	if n := ensemble.NFeatures(); n != model.CropFeatureCount {
		return nil, eris.Errorf("crop: model %s expects %d features, want %d", path, n, model.CropFeatureCount)
	}

	groups := ensemble.NOutputGroups()
	if groups != len(model.CropLabels) {
		zap.L().Warn("crop model output groups do not match crop label table",
			zap.String("path", path),
			zap.Int("groups", groups),
			zap.Int("labels", len(model.CropLabels)),
		)
	}

	zap.L().Info("crop model loaded",
		zap.String("path", path),
		zap.Int("estimators", ensemble.NEstimators()),
		zap.Int("groups", groups),
	)
	return &XGBoostModel{ensemble: ensemble, groups: groups}, nil
}

func (m *XGBoostModel) PredictClass(features []float64) (int, error) {
	if len(features) != model.CropFeatureCount {
		return 0, eris.Errorf("crop: got %d features, want %d", len(features), model.CropFeatureCount)
	}
	for i, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, eris.Errorf("crop: feature %d is not finite", i)
		}
	}

	preds := make([]float64, m.groups)
	if err := m.ensemble.PredictDense(features, 1, len(features), preds, 0, 1); err != nil {
		return 0, eris.Wrap(err, "crop: predict")
	}

	if m.groups == 1 {
		return int(math.Round(preds[0])), nil
	}
	best := 0
	for i := 1; i < len(preds); i++ {
		if preds[i] > preds[best] {
			best = i
		}
	}
	return best, nil
}
