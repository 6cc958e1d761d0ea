package evaluation

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/detmap/internal/geometry"
	"github.com/pkg/errors"
)

// Evaluator computes mean Average Precision over a fixed set of classes.
type Evaluator struct {
	cfg      Config
	classes  ClassEvaluator
	progress ProgressCallback
}

// NewEvaluator validates cfg and returns an evaluator using greedy matching.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg, classes: GreedyMatcher{}, progress: NoOpProgressCallback{}}, nil
}

// WithProgress sets a callback notified as classes finish.
func (e *Evaluator) WithProgress(cb ProgressCallback) *Evaluator {
	if cb == nil {
		cb = NoOpProgressCallback{}
	}
	e.progress = cb
	return e
}

// WithClassEvaluator replaces the per-class scoring strategy.
func (e *Evaluator) WithClassEvaluator(ce ClassEvaluator) *Evaluator {
	if ce != nil {
		e.classes = ce
	}
	return e
}

// Config returns the evaluator configuration.
func (e *Evaluator) Config() Config {
	return e.cfg
}

// classJob is one class id to evaluate.
type classJob struct {
	index int
}

// classOutcome is the evaluation of the class at index.
type classOutcome struct {
	index  int
	result ClassResult
}

// partition groups predictions and ground truth by class id. Records whose
// class id is outside 0..numClasses-1 are counted and otherwise ignored.
type partition struct {
	preds         [][]Prediction
	gts           [][]GroundTruth
	ignoredPreds  int
	ignoredTruths int
}

func partitionByClass(preds []Prediction, gts []GroundTruth, numClasses int) partition {
	p := partition{
		preds: make([][]Prediction, numClasses),
		gts:   make([][]GroundTruth, numClasses),
	}
	for _, pr := range preds {
		if pr.ClassID < 0 || pr.ClassID >= numClasses {
			p.ignoredPreds++
			continue
		}
		p.preds[pr.ClassID] = append(p.preds[pr.ClassID], pr)
	}
	for _, gt := range gts {
		if gt.ClassID < 0 || gt.ClassID >= numClasses {
			p.ignoredTruths++
			continue
		}
		p.gts[gt.ClassID] = append(p.gts[gt.ClassID], gt)
	}
	return p
}

// Evaluate scores preds against gts for every class and averages the per-class AP.
// The input slices are only read.
func (e *Evaluator) Evaluate(ctx context.Context, preds []Prediction, gts []GroundTruth) (*Result, error) {
	start := time.Now()
	n := e.cfg.NumClasses
	parts := partitionByClass(preds, gts, n)

	if parts.ignoredPreds > 0 || parts.ignoredTruths > 0 {
		slog.Warn("Records with class ids outside the evaluated range were ignored",
			"num_classes", n, "predictions", parts.ignoredPreds, "ground_truths", parts.ignoredTruths)
	}

	e.progress.OnStart(n)
	defer e.progress.OnComplete()

	var (
		classes []ClassResult
		err     error
	)
	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		classes, err = e.evaluateSequential(ctx, parts)
	} else {
		classes, err = e.evaluateParallel(ctx, parts, workers)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		IoUThreshold:        e.cfg.IoUThreshold,
		Format:              e.cfg.Format.String(),
		Classes:             classes,
		IgnoredPredictions:  parts.ignoredPreds,
		IgnoredGroundTruths: parts.ignoredTruths,
	}
	res.MeanAP, res.Evaluated = meanOf(classes)
	res.Duration = time.Since(start)

	slog.Debug("Evaluation completed",
		"map", res.MeanAP, "evaluated", res.Evaluated, "classes", n,
		"iou_threshold", e.cfg.IoUThreshold, "duration", res.Duration)
	return res, nil
}

func (e *Evaluator) evaluateSequential(ctx context.Context, parts partition) ([]ClassResult, error) {
	classes := make([]ClassResult, e.cfg.NumClasses)
	for c := range e.cfg.NumClasses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		classes[c] = e.evaluateClass(c, parts)
		e.progress.OnProgress(c+1, e.cfg.NumClasses)
	}
	return classes, nil
}

func (e *Evaluator) evaluateParallel(ctx context.Context, parts partition, workers int) ([]ClassResult, error) {
	n := e.cfg.NumClasses
	jobs := make(chan classJob, n)
	results := make(chan classOutcome, n)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go e.worker(ctx, parts, jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for c := range n {
			select {
			case jobs <- classJob{index: c}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	classes := make([]ClassResult, n)
	done := 0
	for out := range results {
		classes[out.index] = out.result
		done++
		e.progress.OnProgress(done, n)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if done != n {
		return nil, errors.Errorf("evaluated %d of %d classes", done, n)
	}
	return classes, nil
}

// worker evaluates classes from the jobs channel.
func (e *Evaluator) worker(
	ctx context.Context,
	parts partition,
	jobs <-chan classJob,
	results chan<- classOutcome,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			out := classOutcome{index: job.index, result: e.evaluateClass(job.index, parts)}
			select {
			case results <- out:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// evaluateClass applies the empty-class policy around the configured ClassEvaluator.
func (e *Evaluator) evaluateClass(c int, parts partition) ClassResult {
	preds, gts := parts.preds[c], parts.gts[c]

	res := e.classes.EvaluateClass(c, preds, gts, e.cfg.IoUThreshold, e.cfg.Format)
	switch {
	case len(gts) == 0 && e.cfg.EmptyClassPolicy == PolicySkip:
		res.AveragePrecision = 0
		res.Skipped = true
		res.Note = "no ground truth; excluded from mean"
	case len(gts) == 0:
		res.AveragePrecision = 0
		res.Note = "no ground truth"
	case len(preds) == 0:
		res.AveragePrecision = 0
		res.Note = "no predictions"
	}

	slog.Debug("Class evaluated",
		"class", c, "ap", res.AveragePrecision,
		"tp", res.TruePositives, "fp", res.FalsePositives, "ground_truths", res.GroundTruths)
	return res
}

// meanOf averages the AP of all classes that were not skipped.
func meanOf(classes []ClassResult) (float64, int) {
	var sum float64
	evaluated := 0
	for _, c := range classes {
		if c.Skipped {
			continue
		}
		sum += c.AveragePrecision
		evaluated++
	}
	if evaluated == 0 {
		return 0, 0
	}
	return sum / float64(evaluated), evaluated
}

// MeanAveragePrecision evaluates preds against gts for classes 0..numClasses-1
// and returns the mAP. Classes without ground truth contribute an AP of 0.
func MeanAveragePrecision(
	preds []Prediction,
	gts []GroundTruth,
	iouThreshold float64,
	boxFormat string,
	numClasses int,
) (float64, error) {
	format, err := geometry.ParseFormat(boxFormat)
	if err != nil {
		return 0, err
	}
	cfg := DefaultConfig()
	cfg.IoUThreshold = iouThreshold
	cfg.Format = format
	cfg.NumClasses = numClasses
	cfg.Workers = 1

	ev, err := NewEvaluator(cfg)
	if err != nil {
		return 0, err
	}
	res, err := ev.Evaluate(context.Background(), preds, gts)
	if err != nil {
		return 0, err
	}
	return res.MeanAP, nil
}
