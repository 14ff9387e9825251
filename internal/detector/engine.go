package detector

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/recoup-labs/recovery-cli/internal/calibration"
	"github.com/recoup-labs/recovery-cli/internal/model"
	"github.com/recoup-labs/recovery-cli/internal/resilience"
)

// Sink persists detection results. Inserts are plain batch inserts; trap
// records (serial returner) are upserts keyed on (seller, sync, type) so
// reruns of the same batch do not duplicate them.
type Sink interface {
	InsertResults(ctx context.Context, results []model.DetectionResult) error
	UpsertTrapResult(ctx context.Context, result model.DetectionResult) error
}

// Calibrator rewrites a raw confidence score using historical outcomes.
type Calibrator interface {
	Calibrate(ctx context.Context, anomalyType model.AnomalyType, raw float64) (calibration.Result, error)
}

// Engine runs every registered detector for one seller/sync batch. Detectors
// share no state and run fully in parallel; a failing detector or a failing
// sink write never aborts its siblings.
type Engine struct {
	registry   *Registry
	calibrator Calibrator // optional
	sink       Sink       // optional
	dlq        *resilience.DeadLetterQueue
}

// NewEngine creates an engine. Calibrator and sink may be nil, in which
// case results are returned raw and nothing is persisted.
func NewEngine(registry *Registry, calibrator Calibrator, sink Sink) *Engine {
	return &Engine{registry: registry, calibrator: calibrator, sink: sink}
}

// WithDLQ attaches a dead-letter queue. Failed sink writes keep their full
// result payload there instead of surviving only as a log line.
func (e *Engine) WithDLQ(q *resilience.DeadLetterQueue) *Engine {
	e.dlq = q
	return e
}

// Run executes all detectors concurrently and returns the merged results
// sorted by estimated value descending.
func (e *Engine) Run(ctx context.Context, in Input) ([]model.DetectionResult, error) {
	log := zap.L().With(
		zap.String("seller_id", in.SellerID),
		zap.String("sync_id", in.SyncID),
	)

	var (
		mu     sync.Mutex
		merged []model.DetectionResult
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range e.registry.All() {
		g.Go(func() error {
			results, err := d.Detect(gctx, in)
			if err != nil {
				// A failing detector degrades to "no data", never aborts
				// the run.
				log.Warn("detector failed, skipping",
					zap.String("detector", d.Name()),
					zap.Error(err),
				)
				return nil
			}
			if len(results) == 0 {
				return nil
			}

			e.calibrate(gctx, d, results)
			e.persist(gctx, log, d, results)

			mu.Lock()
			merged = append(merged, results...)
			mu.Unlock()

			log.Info("detector complete",
				zap.String("detector", d.Name()),
				zap.Int("detections", len(results)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortByImpact(merged)
	return merged, nil
}

// calibrate rewrites confidence scores in place. Calibration failures leave
// the raw score untouched.
func (e *Engine) calibrate(ctx context.Context, d Detector, results []model.DetectionResult) {
	if e.calibrator == nil {
		return
	}
	for i := range results {
		res, err := e.calibrator.Calibrate(ctx, results[i].AnomalyType, results[i].ConfidenceScore)
		if err != nil {
			zap.L().Warn("calibration failed, keeping raw confidence",
				zap.String("detector", d.Name()),
				zap.String("anomaly_type", string(results[i].AnomalyType)),
				zap.Error(err),
			)
			continue
		}
		results[i].ConfidenceScore = res.Calibrated
		results[i].ConfidenceInterval = res.Interval
	}
}

// persist writes one detector's batch. Trap records (serial returner) are
// upserted individually; everything else is a single batch insert. Write
// failures are logged and swallowed per batch.
func (e *Engine) persist(ctx context.Context, log *zap.Logger, d Detector, results []model.DetectionResult) {
	if e.sink == nil {
		return
	}

	var inserts []model.DetectionResult
	for _, r := range results {
		if r.AnomalyType == model.AnomalySerialReturner {
			if err := e.sink.UpsertTrapResult(ctx, r); err != nil {
				log.Warn("trap upsert failed",
					zap.String("detector", d.Name()),
					zap.String("id", r.ID),
					zap.Error(err),
				)
				e.deadLetter("trap_upsert", []model.DetectionResult{r}, err)
			}
			continue
		}
		inserts = append(inserts, r)
	}
	if len(inserts) == 0 {
		return
	}
	if err := e.sink.InsertResults(ctx, inserts); err != nil {
		log.Warn("result insert failed",
			zap.String("detector", d.Name()),
			zap.Int("count", len(inserts)),
			zap.Error(err),
		)
		e.deadLetter("insert", inserts, err)
	}
}

// deadLetter queues a failed write when a DLQ is attached.
func (e *Engine) deadLetter(operation string, results []model.DetectionResult, err error) {
	if e.dlq == nil {
		return
	}
	entry := e.dlq.Add(operation, results, err)
	zap.L().Warn("write dead-lettered",
		zap.String("operation", operation),
		zap.String("entry_id", entry.ID),
		zap.String("error_type", entry.ErrorType),
		zap.Int("results", len(results)),
	)
}
