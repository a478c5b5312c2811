package nn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cyclopcam/labeler/pkg/geom"
	"github.com/cyclopcam/www"
)

// HTTPPredictor sends images to an inference service, which runs the model.
//
// Request:  POST {"image": "/path/to/image.jpg", "probabilityThreshold": 0.5, "nmsIouThreshold": 0.45}
// Response: {"predictions": [{"label": "cat", "confidence": 0.9, "box": [x1,y1,x2,y2]} | {..., "points": [[x,y],...]}]}
//
// Coordinates are image pixels.
type HTTPPredictor struct {
	URL    string
	Params DetectionParams
}

func NewHTTPPredictor(url string) *HTTPPredictor {
	return &HTTPPredictor{
		URL:    url,
		Params: *NewDetectionParams(),
	}
}

type predictRequestJSON struct {
	Image string `json:"image"`
	DetectionParams
}

type predictionJSON struct {
	Label      string       `json:"label"`
	Confidence float32      `json:"confidence"`
	Box        *[4]float64  `json:"box,omitempty"`
	Points     [][2]float64 `json:"points,omitempty"`
}

type predictResponseJSON struct {
	Predictions []predictionJSON `json:"predictions"`
}

func (p *HTTPPredictor) Predict(ctx context.Context, imagePath string) ([]Prediction, error) {
	body, err := json.Marshal(&predictRequestJSON{Image: imagePath, DetectionParams: p.Params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", p.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp := predictResponseJSON{}
	if err := www.FetchJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("Prediction request to %v failed: %w", p.URL, err)
	}

	result := make([]Prediction, 0, len(resp.Predictions))
	for i, pj := range resp.Predictions {
		pr := Prediction{Label: pj.Label, Confidence: pj.Confidence}
		switch {
		case pj.Box != nil:
			pr.Shape = geom.BoxShape(geom.Box{X1: pj.Box[0], Y1: pj.Box[1], X2: pj.Box[2], Y2: pj.Box[3]})
		case len(pj.Points) != 0:
			poly := make(geom.Polygon, len(pj.Points))
			for j, pt := range pj.Points {
				poly[j] = geom.Point{X: pt[0], Y: pt[1]}
			}
			pr.Shape = geom.PolygonShape(poly)
		default:
			return nil, fmt.Errorf("Prediction %v from %v has neither a box nor points", i, p.URL)
		}
		result = append(result, pr)
	}
	return result, nil
}
