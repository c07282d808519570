package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// LabelDelimiter separates the plant and disease segments of a disease label.
const LabelDelimiter = "___"

// DiseaseClasses is the PlantVillage label table in training order. Index i
// is the i-th output of every disease model.
var DiseaseClasses = []string{
	"Apple___Apple_scab",
	"Apple___Black_rot",
	"Apple___Cedar_apple_rust",
	"Apple___healthy",
	"Blueberry___healthy",
	"Cherry_(including_sour)___Powdery_mildew",
	"Cherry_(including_sour)___healthy",
	"Corn_(maize)___Cercospora_leaf_spot Gray_leaf_spot",
	"Corn_(maize)___Common_rust_",
	"Corn_(maize)___Northern_Leaf_Blight",
	"Corn_(maize)___healthy",
	"Grape___Black_rot",
	"Grape___Esca_(Black_Measles)",
	"Grape___Leaf_blight_(Isariopsis_Leaf_Spot)",
	"Grape___healthy",
	"Orange___Haunglongbing_(Citrus_greening)",
	"Peach___Bacterial_spot",
	"Peach___healthy",
	"Pepper,_bell___Bacterial_spot",
	"Pepper,_bell___healthy",
	"Potato___Early_blight",
	"Potato___Late_blight",
	"Potato___healthy",
	"Raspberry___healthy",
	"Soybean___healthy",
	"Squash___Powdery_mildew",
	"Strawberry___Leaf_scorch",
	"Strawberry___healthy",
	"Tomato___Bacterial_spot",
	"Tomato___Early_blight",
	"Tomato___Late_blight",
	"Tomato___Leaf_Mold",
	"Tomato___Septoria_leaf_spot",
	"Tomato___Spider_mites Two-spotted_spider_mite",
	"Tomato___Target_Spot",
	"Tomato___Tomato_Yellow_Leaf_Curl_Virus",
	"Tomato___Tomato_mosaic_virus",
	"Tomato___healthy",
}

// CropLabels maps the tabular model's class index to a crop name.
var CropLabels = []string{
	"apple",
	"banana",
	"blackgram",
	"chickpea",
	"coconut",
	"coffee",
	"cotton",
	"grapes",
	"jute",
	"kidneybeans",
	"lentil",
	"maize",
	"mango",
	"mothbeans",
	"mungbean",
	"muskmelon",
	"orange",
	"papaya",
	"pigeonpeas",
	"pomegranate",
	"rice",
	"watermelon",
}

// DiseaseLabel returns classes[idx], or a Class_<idx> placeholder when the
// model emits an index the table does not cover.
func DiseaseLabel(idx int, classes []string) string {
	if idx >= 0 && idx < len(classes) {
		return classes[idx]
	}
	return fmt.Sprintf("Class_%d", idx)
}

// SplitLabel splits "Tomato___Late_blight" into ("Tomato", "Late blight").
func SplitLabel(label string) (plant, status string) {
	plant, status, ok := strings.Cut(label, LabelDelimiter)
	if !ok {
		return label, "Unknown"
	}
	plant = strings.TrimSpace(strings.ReplaceAll(plant, "_", " "))
	status = strings.TrimSpace(strings.ReplaceAll(status, "_", " "))
	return plant, status
}

// CropLabel decodes a tabular class index. The crop output space is closed,
// so an unknown index is a prediction error rather than a placeholder.
func CropLabel(idx int) (string, error) {
	if idx < 0 || idx >= len(CropLabels) {
		return "", eris.Wrapf(ErrPrediction, "crop class index %d outside label table of %d", idx, len(CropLabels))
	}
	return CropLabels[idx], nil
}
