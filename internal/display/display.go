// Package display maps inference results into the models the pages render.
package display

import (
	"math"
	"sort"
	"strings"

	"github.com/book-expert/inference-studio/internal/core"
	"github.com/samber/lo"
)

// Generic error texts shown instead of raw transport errors.
const (
	ClassifyErrorMessage      = "Failed to classify image. Please try again."
	ClassifyBatchErrorMessage = "Failed to classify images. Please try again."
	errorLabel                = "Error"
	errorClassName            = "error"
)

// Prediction is one row of the single-image result panel.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// BatchEntry is one tile of the batch result grid.
type BatchEntry struct {
	Filename          string  `json:"filename"`
	ClassName         string  `json:"class_name"`
	Probability       float64 `json:"probability"`
	ConfidencePercent int     `json:"confidence_percent"`
	Error             string  `json:"error,omitempty"`
}

// SinglePredictions expands a binary classification into both labels, sorted
// by descending confidence. labels is the label pair of the model; a class
// outside the pair yields a single row.
func SinglePredictions(result core.Classification, labels []string) []Prediction {
	predictions := []Prediction{{Label: result.ClassName, Confidence: result.Probability}}

	if other, ok := complement(result.ClassName, labels); ok {
		predictions = append(predictions, Prediction{Label: other, Confidence: 1 - result.Probability})
	}

	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Confidence > predictions[j].Confidence
	})

	return predictions
}

// BatchEntries maps every result independently.
func BatchEntries(results []core.Classification) []BatchEntry {
	return lo.Map(results, func(result core.Classification, _ int) BatchEntry {
		return BatchEntry{
			Filename:          result.Filename,
			ClassName:         result.ClassName,
			Probability:       result.Probability,
			ConfidencePercent: Percent(result.Probability),
		}
	})
}

// ErrorPrediction is the single entry shown when a single-image request fails.
func ErrorPrediction() []Prediction {
	return []Prediction{{Label: errorLabel, Confidence: 0, Error: ClassifyErrorMessage}}
}

// ErrorBatchEntry is the single entry shown when a batch request fails.
func ErrorBatchEntry() []BatchEntry {
	return []BatchEntry{{Filename: errorLabel, ClassName: errorClassName, Error: ClassifyBatchErrorMessage}}
}

// Percent rounds a confidence in [0,1] to a whole percentage.
func Percent(confidence float64) int {
	return int(math.Round(confidence * 100))
}

// LabelColor returns the accent color of a label.
func LabelColor(label string) string {
	switch strings.ToLower(label) {
	case "dog":
		return "#ff6b35"
	case "cat":
		return "#4ecdc4"
	case errorClassName:
		return "#e74c3c"
	default:
		return "#95a5a6"
	}
}

// LabelEmoji returns the icon of a label.
func LabelEmoji(label string) string {
	switch strings.ToLower(label) {
	case "dog":
		return "🐶"
	case "cat":
		return "🐱"
	case errorClassName:
		return "❌"
	default:
		return "🤖"
	}
}

func complement(label string, labels []string) (string, bool) {
	if len(labels) != 2 {
		return "", false
	}

	switch {
	case strings.EqualFold(label, labels[0]):
		return labels[1], true
	case strings.EqualFold(label, labels[1]):
		return labels[0], true
	default:
		return "", false
	}
}
