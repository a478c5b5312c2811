// Package nn is the boundary to object detection models.
// Models themselves run elsewhere. We only consume their predictions.
package nn

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/cyclopcam/labeler/pkg/geom"
)

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.45

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 `json:"probabilityThreshold"` // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	NmsIouThreshold      float32 `json:"nmsIouThreshold"`      // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
	}
}

// Prediction is one object that a model found in an image.
// Label is the model's class name, which is mapped to a registry class by exact name.
type Prediction struct {
	Shape      geom.Shape `json:"shape"`
	Label      string     `json:"label"`
	Confidence float32    `json:"confidence"`
}

// Predictor runs a model on an image.
// Predict may take a long time, and must honor ctx cancellation.
type Predictor interface {
	Predict(ctx context.Context, imagePath string) ([]Prediction, error)
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // eg 320
	Height       int      `json:"height"`       // eg 256
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}
