package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/geom"
	"github.com/cyclopcam/labeler/pkg/nn"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// The logging stack pulls in opencensus, whose init starts a worker that lives for the whole process
var leakOptions = []goleak.Option{
	goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
}

// fakePredictor returns a fixed set of predictions.
// If release is not nil, Predict waits for it to be closed (or for ctx to be cancelled).
type fakePredictor struct {
	preds   []nn.Prediction
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakePredictor) Predict(ctx context.Context, imagePath string) ([]nn.Prediction, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.preds, f.err
}

func pred(label string, conf float32, x1, y1, x2, y2 float64) nn.Prediction {
	return nn.Prediction{Label: label, Confidence: conf, Shape: geom.BoxShape(geom.Box{X1: x1, Y1: y1, X2: x2, Y2: y2})}
}

// runPrediction runs a prediction, and waits for the result
func runPrediction(t *testing.T, c *Controller) PredictionResult {
	t.Helper()
	done := make(chan PredictionResult, 1)
	require.NoError(t, c.RunPrediction(context.Background(), func(r PredictionResult) { done <- r }))
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for prediction")
	}
	return PredictionResult{}
}

func TestPredictionUnmappedSkipped(t *testing.T) {
	defer goleak.VerifyNone(t, leakOptions...)
	root := makeFolder(t, 1)
	c := newController(t, newRegistry(t, "cat"), DefaultConfig())
	c.SetPredictor(&fakePredictor{preds: []nn.Prediction{
		pred("zebra", 0.9, 10, 10, 20, 20),
		pred("giraffe", 0.8, 30, 30, 40, 40),
	}})
	require.NoError(t, c.Open(root))

	res := runPrediction(t, c)
	require.NoError(t, res.Err)
	require.Equal(t, 0, res.Added)
	require.Equal(t, 2, res.Skipped)
	require.Empty(t, c.Labels())
	require.Equal(t, StateDocumentLoaded, c.State())
	c.Close()
}

func TestPredictionAppliesLabels(t *testing.T) {
	defer goleak.VerifyNone(t, leakOptions...)
	root := makeFolder(t, 1)
	cfg := DefaultConfig()
	cfg.AutoExtendClasses = true
	reg := newRegistry(t, "cat")
	c := newController(t, reg, cfg)
	c.SetPredictor(&fakePredictor{preds: []nn.Prediction{
		pred("cat", 0.9, 10, 10, 20, 20),     // duplicate of the manual label
		pred("cat", 0.8, 50, 50, 60, 60),     // new
		pred("dog", 1.5, 90, 90, 120, 120),   // new class, clipped, confidence clamped
		pred("cat", 0.7, 200, 200, 300, 300), // entirely outside the image
	}})
	require.NoError(t, c.Open(root))
	_, err := c.AddLabel(box(10, 10, 20, 20, 0))
	require.NoError(t, err)

	events := &eventLog{}
	c.AddListener(events)
	res := runPrediction(t, c)
	require.NoError(t, res.Err)
	require.Equal(t, 2, res.Added)
	require.Equal(t, 1, res.Duplicates)
	require.Equal(t, 1, res.Invalid)
	require.Equal(t, 0, res.Skipped)

	labels := c.Labels()
	require.Len(t, labels, 3)
	require.Equal(t, annotation.SourcePredicted, labels[1].Source)
	require.Equal(t, float32(0.8), *labels[1].Confidence)
	dog, ok := reg.Lookup("dog")
	require.True(t, ok)
	require.Equal(t, dog.ID, labels[2].ClassID)
	require.Equal(t, float32(1), *labels[2].Confidence)
	require.Equal(t, geom.Box{X1: 90, Y1: 90, X2: 100, Y2: 100}, labels[2].Shape.Box)
	require.Equal(t, []EventKind{EventClassesChanged, EventPredictionFinished}, events.kinds())

	// One undo step removes the whole prediction
	require.NoError(t, c.Undo())
	require.Len(t, c.Labels(), 1)
	c.Close()
}

func TestPredictionBusy(t *testing.T) {
	defer goleak.VerifyNone(t, leakOptions...)
	root := makeFolder(t, 1)
	c := newController(t, newRegistry(t, "cat"), DefaultConfig())
	p := &fakePredictor{
		preds:   []nn.Prediction{pred("cat", 0.5, 10, 10, 20, 20)},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c.SetPredictor(p)
	require.NoError(t, c.Open(root))

	done := make(chan PredictionResult, 1)
	require.NoError(t, c.RunPrediction(context.Background(), func(r PredictionResult) { done <- r }))
	<-p.started
	require.True(t, c.Snapshot().Predicting)
	require.ErrorIs(t, c.RunPrediction(context.Background(), nil), ErrBusy)

	close(p.release)
	res := <-done
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.Added)
	require.Equal(t, StateDirty, c.State())
	c.Close()
}

func TestPredictionStale(t *testing.T) {
	defer goleak.VerifyNone(t, leakOptions...)
	root := makeFolder(t, 2)
	c := newController(t, newRegistry(t, "cat"), DefaultConfig())
	p := &fakePredictor{
		preds:   []nn.Prediction{pred("cat", 0.5, 10, 10, 20, 20)},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c.SetPredictor(p)
	require.NoError(t, c.Open(root))

	done := make(chan PredictionResult, 1)
	require.NoError(t, c.RunPrediction(context.Background(), func(r PredictionResult) { done <- r }))
	<-p.started
	require.NoError(t, c.Navigate(Next))
	close(p.release)

	res := <-done
	require.ErrorIs(t, res.Err, ErrStalePrediction)
	require.NotEmpty(t, res.Error)
	require.Empty(t, c.Labels())
	c.Close()
}

func TestPredictionFailureLeavesDocument(t *testing.T) {
	defer goleak.VerifyNone(t, leakOptions...)
	root := makeFolder(t, 1)
	c := newController(t, newRegistry(t, "cat"), DefaultConfig())
	require.NoError(t, c.Open(root))
	require.ErrorIs(t, c.RunPrediction(context.Background(), nil), ErrNoPredictor)

	c.SetPredictor(&fakePredictor{err: errors.New("model exploded")})
	res := runPrediction(t, c)
	require.ErrorContains(t, res.Err, "model exploded")
	require.Empty(t, c.Labels())
	require.Equal(t, StateDocumentLoaded, c.State())
	c.Close()
}

func TestCloseCancelsPrediction(t *testing.T) {
	defer goleak.VerifyNone(t, leakOptions...)
	root := makeFolder(t, 1)
	c := newController(t, newRegistry(t, "cat"), DefaultConfig())
	p := &fakePredictor{started: make(chan struct{}), release: make(chan struct{})}
	c.SetPredictor(p)
	require.NoError(t, c.Open(root))

	done := make(chan PredictionResult, 1)
	require.NoError(t, c.RunPrediction(context.Background(), func(r PredictionResult) { done <- r }))
	<-p.started
	c.Close()
	res := <-done
	require.ErrorIs(t, res.Err, context.Canceled)
	require.ErrorIs(t, c.RunPrediction(context.Background(), nil), ErrClosed)
}
