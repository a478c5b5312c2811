package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/labeler/pkg/nn"
)

type imagePredictions struct {
	Image       string          `json:"image"`
	Predictions []nn.Prediction `json:"predictions"`
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// Runs the inference service on a set of images, and writes the raw predictions as JSON.
// This is useful for checking what a model produces before pointing the labeler at it.
func main() {
	parser := argparse.NewParser("predict", "Run an inference service on images")
	images := parser.StringList("i", "input", &argparse.Options{Help: "Input image file (may be repeated)", Required: true})
	output := parser.File("o", "output", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0664, &argparse.Options{Help: "Output JSON file", Required: true})
	url := parser.String("p", "predictor", &argparse.Options{Help: "URL of the inference service", Required: true})
	minSize := parser.Int("m", "minsize", &argparse.Options{Help: "Minimum size of object, in pixels", Default: 0})
	classes := parser.String("c", "classes", &argparse.Options{Help: "Comma-separated list of labels to keep (empty keeps all)"})
	threshold := parser.Float("t", "threshold", &argparse.Options{Help: "Probability threshold", Default: float64(nn.DefaultProbabilityThreshold)})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	keep := map[string]bool{}
	if *classes != "" {
		for _, c := range strings.Split(*classes, ",") {
			keep[strings.TrimSpace(c)] = true
		}
	}

	predictor := nn.NewHTTPPredictor(*url)
	predictor.Params.ProbabilityThreshold = float32(*threshold)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	all := []imagePredictions{}
	for _, img := range *images {
		preds, err := predictor.Predict(ctx, img)
		check(err)
		result := imagePredictions{Image: img, Predictions: []nn.Prediction{}}
		for _, p := range preds {
			b := p.Shape.Bounds()
			if len(keep) != 0 && !keep[p.Label] {
				continue
			}
			if b.Width() < float64(*minSize) || b.Height() < float64(*minSize) {
				continue
			}
			result.Predictions = append(result.Predictions, p)
		}
		fmt.Printf("%v: %v objects\n", img, len(result.Predictions))
		all = append(all, result)
	}

	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(all)
	check(err)
}
