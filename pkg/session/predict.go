package session

import (
	"context"
	"fmt"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/gen"
	"github.com/cyclopcam/labeler/pkg/nn"
)

// PredictionResult is the outcome of RunPrediction
type PredictionResult struct {
	Added      int    `json:"added"`      // Labels appended to the document
	Skipped    int    `json:"skipped"`    // Predictions whose label is not a class, and which were dropped
	Duplicates int    `json:"duplicates"` // Predictions that duplicate an existing label
	Invalid    int    `json:"invalid"`    // Predictions with a degenerate shape, after clipping to the image
	Err        error  `json:"-"`
	Error      string `json:"error,omitempty"`
}

// RunPrediction runs the predictor on the current image in the background.
// Only one prediction may run at a time, and a second request fails with ErrBusy.
// When the prediction finishes, the result is applied to the document, done is called
// (if not nil), and an EventPredictionFinished is sent.
// If the user moved to another image in the meantime, the result is discarded,
// and PredictionResult.Err is ErrStalePrediction.
func (c *Controller) RunPrediction(ctx context.Context, done func(PredictionResult)) error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return ErrClosed
	}
	if c.doc == nil {
		c.lock.Unlock()
		return ErrNoDocument
	}
	if !c.doc.HasImage() {
		c.lock.Unlock()
		return ErrNoImage
	}
	if c.predictor == nil {
		c.lock.Unlock()
		return ErrNoPredictor
	}
	if c.predicting {
		c.lock.Unlock()
		return ErrBusy
	}
	c.predicting = true
	doc := c.doc
	predictor := c.predictor
	ctx, cancel := context.WithCancel(ctx)
	c.predictCancel = cancel
	c.predictWG.Add(1)
	c.lock.Unlock()

	go func() {
		defer c.predictWG.Done()
		defer cancel()
		res := c.predict(ctx, predictor, doc)
		if res.Err != nil {
			res.Error = res.Err.Error()
			c.log.Warnf("Prediction of %v: %v", doc.Item.Path, res.Err)
		} else {
			c.log.Infof("Prediction of %v: added %v, skipped %v, duplicates %v", doc.Item.Path, res.Added, res.Skipped, res.Duplicates)
		}

		c.lock.Lock()
		c.predicting = false
		c.predictCancel = nil
		c.lock.Unlock()

		c.SendEvent(Event{Kind: EventPredictionFinished, Snapshot: c.Snapshot(), Prediction: &res})
		if done != nil {
			done(res)
		}
	}()
	return nil
}

func (c *Controller) predict(ctx context.Context, predictor nn.Predictor, doc *Document) PredictionResult {
	res := PredictionResult{}
	preds, err := predictor.Predict(ctx, doc.Item.Path)
	if err != nil {
		res.Err = fmt.Errorf("prediction failed: %w", err)
		return res
	}

	// Map labels to classes before taking our lock, because creating a class
	// sends a registry event, which we forward.
	bounds := imageBounds(doc.Image)
	candidates := []annotation.Record{}
	for _, p := range preds {
		cls, ok := c.reg.Lookup(p.Label)
		id := cls.ID
		if !ok {
			if !c.cfg.AutoExtendClasses {
				res.Skipped++
				continue
			}
			id, err = c.reg.AddAuto(p.Label)
			if err != nil {
				c.log.Warnf("Failed to create class '%v' for prediction: %v", p.Label, err)
				res.Skipped++
				continue
			}
		}
		rec := annotation.Predicted(p.Shape.Clip(bounds), id, gen.Clamp(p.Confidence, 0, 1))
		if err := rec.Validate(nil); err != nil {
			res.Invalid++
			continue
		}
		candidates = append(candidates, rec)
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.doc != doc {
		res.Err = ErrStalePrediction
		return res
	}

	existing := make([]nn.Labeled, 0, len(doc.labels))
	for _, r := range doc.labels {
		existing = append(existing, nn.Labeled{Shape: r.Shape, Class: r.ClassID})
	}
	labeled := make([]nn.Labeled, 0, len(candidates))
	for _, r := range candidates {
		labeled = append(labeled, nn.Labeled{Shape: r.Shape, Class: r.ClassID})
	}
	keep := nn.DropDuplicates(existing, labeled, c.cfg.DuplicateIoU)
	res.Duplicates = len(candidates) - len(keep)

	labels := annotation.Clone(doc.labels)
	for _, i := range keep {
		// A class could have been removed while we were mapping
		if !c.reg.Exists(candidates[i].ClassID) {
			res.Skipped++
			continue
		}
		labels = append(labels, candidates[i])
		res.Added++
	}
	if res.Added != 0 {
		doc.mutate(labels)
	}
	return res
}
