// Package batch runs groups of uploads through validation, transcoding and
// storage, one file at a time, reporting progress as it goes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"image-uploader-go/internal/logger"
	"image-uploader-go/internal/media"
	"image-uploader-go/internal/metrics"
	"image-uploader-go/internal/statistics"
	"image-uploader-go/internal/storage"
	"image-uploader-go/internal/transcoder"
	"image-uploader-go/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrConfiguration is wrapped by the errors Run returns. Per-file problems
// never produce an error.
var ErrConfiguration = errors.New("batch configuration error")

// Recorder is notified of every completed item, typically to catalog it.
type Recorder interface {
	Record(ctx context.Context, folder string, item Item) error
}

// Coordinator drives batches. It holds no per-batch state, so one
// Coordinator may run any number of batches concurrently.
type Coordinator struct {
	validator  validation.Validator
	transcoder transcoder.Transcoder
	store      storage.BlobStore
	logger     logrus.FieldLogger

	recorder Recorder
	stats    *statistics.Statistics
	metrics  *metrics.Metrics
}

// Option configures optional Coordinator collaborators.
type Option func(*Coordinator)

// WithRecorder registers a Recorder for completed items.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithStatistics feeds process-wide counters.
func WithStatistics(s *statistics.Statistics) Option {
	return func(c *Coordinator) { c.stats = s }
}

// WithMetrics feeds Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a Coordinator. A nil validator selects
// validation.Engine and a nil logger discards output.
func NewCoordinator(
	v validation.Validator,
	t transcoder.Transcoder,
	store storage.BlobStore,
	log logrus.FieldLogger,
	opts ...Option,
) *Coordinator {
	if v == nil {
		v = validation.Engine
	}
	if log == nil {
		log = logger.Discard()
	}
	c := &Coordinator{
		validator:  v,
		transcoder: t,
		store:      store,
		logger:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type batchIDKey struct{}

// ContextWithBatchID attaches a batch id for Run to use instead of
// generating one.
func ContextWithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, id)
}

func batchIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(batchIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// run carries the state of a single batch.
type run struct {
	*Coordinator
	ctx        context.Context
	log        *logrus.Entry
	folder     string
	rules      validation.RuleSet
	opts       transcoder.Options
	items      []Item
	onProgress ProgressFunc
}

// Run processes inputs in order and returns one item per input. Items are
// handled strictly one after another. A per-file failure marks that item and
// moves on. Cancelling ctx marks every item not yet started as cancelled.
//
// Run only returns an error, wrapping ErrConfiguration, when rules or opts
// are malformed or the Coordinator lacks a collaborator.
func (c *Coordinator) Run(
	ctx context.Context,
	inputs []media.RawInput,
	folder string,
	rules validation.RuleSet,
	opts transcoder.Options,
	onProgress ProgressFunc,
) (*Result, error) {
	if c.transcoder == nil || c.store == nil {
		return nil, fmt.Errorf("%w: transcoder and store are required", ErrConfiguration)
	}
	if err := rules.Check(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := opts.Check(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	id := batchIDFrom(ctx)
	r := &run{
		Coordinator: c,
		ctx:         ctx,
		log:         logger.WithBatch(c.logger, id, folder),
		folder:      folder,
		rules:       rules.Clone(),
		opts:        opts,
		items:       make([]Item, len(inputs)),
		onProgress:  onProgress,
	}
	for i, in := range inputs {
		r.items[i] = Item{Index: i, FileName: in.Name, State: StatePending}
	}

	start := time.Now()
	r.log.WithField("files", len(inputs)).Info("batch started")
	if c.stats != nil {
		c.stats.IncrementBatchesStarted()
		c.stats.AddFilesReceived(len(inputs))
	}
	if c.metrics != nil {
		c.metrics.IncBatchesStarted(len(inputs))
	}

	r.emit()

	for i := range inputs {
		if err := ctx.Err(); err != nil {
			r.cancelFrom(i, err)
			break
		}
		r.process(&r.items[i], inputs[i])
	}

	result := &Result{BatchID: id, Folder: folder, Items: r.items}
	for _, it := range r.items {
		if it.State == StateCompleted {
			result.SuccessCount++
		} else {
			result.ErrorCount++
		}
	}

	if c.stats != nil {
		c.stats.IncrementBatchesCompleted()
	}
	r.log.WithFields(logrus.Fields{
		"succeeded": result.SuccessCount,
		"failed":    result.ErrorCount,
		"duration":  time.Since(start).String(),
	}).Info("batch finished")

	return result, nil
}

func (r *run) process(item *Item, input media.RawInput) {
	log := logger.WithFile(r.log, input.Name)
	if r.stats != nil {
		r.stats.IncrementFileType(input.MimeType)
	}

	r.transition(item, StateValidating)
	start := time.Now()
	vo := r.validator.Validate(input, r.rules)
	r.observe("validate", start)
	item.Validation = &vo
	if !vo.OK {
		item.Violations = vo.Violations
		item.Error = strings.Join(vo.Violations, "; ")
		log.WithField("violations", vo.Violations).Warn("file rejected by validation")
		r.finish(item, StateInvalid)
		return
	}

	r.transition(item, StateTranscoding)
	start = time.Now()
	to := r.transcoder.Transcode(r.ctx, input, r.opts)
	r.observe("transcode", start)
	item.Transcode = &to
	if !to.OK || to.File == nil {
		item.Error = to.Error
		if item.Error == "" {
			item.Error = "transcode produced no output"
		}
		log.WithField("error", item.Error).Warn("transcode failed")
		r.finish(item, StateTranscodeFailed)
		return
	}
	log.WithFields(logrus.Fields{
		"bytes_in":  to.InputBytes,
		"bytes_out": to.OutputBytes,
		"quality":   to.Quality,
		"attempts":  to.Attempts,
	}).Debug("transcoded")

	r.transition(item, StateUploading)
	start = time.Now()
	up, err := r.store.Put(r.ctx, to.File.Data, to.File.MimeType, r.folder, to.File.Name)
	r.observe("upload", start)
	if err != nil {
		item.Error = err.Error()
		log.WithError(err).Warn("upload failed")
		r.finish(item, StateUploadFailed)
		return
	}
	item.Upload = up

	if r.stats != nil {
		r.stats.AddTranscode(to.InputBytes, to.OutputBytes, to.Attempts)
	}
	if r.metrics != nil {
		r.metrics.ObserveTranscode(to.Attempts, to.InputBytes, to.OutputBytes)
	}

	item.State = StateCompleted
	if r.recorder != nil {
		if err := r.recorder.Record(r.ctx, r.folder, *item); err != nil {
			log.WithError(err).Warn("failed to record asset")
		}
	}
	log.WithField("url", up.URL).Debug("uploaded")
	r.finish(item, StateCompleted)
}

func (r *run) transition(item *Item, s State) {
	item.State = s
	r.log.WithFields(logrus.Fields{"file": item.FileName, "state": s.String()}).Debug("state changed")
	r.emit()
}

func (r *run) finish(item *Item, s State) {
	item.State = s
	if r.stats != nil {
		switch s {
		case StateCompleted:
			r.stats.IncrementFilesCompleted()
		case StateInvalid:
			r.stats.IncrementFilesInvalid()
		case StateTranscodeFailed:
			r.stats.IncrementFilesTranscodeFailed()
		case StateUploadFailed:
			r.stats.IncrementFilesUploadFailed()
		case StateCancelled:
			r.stats.IncrementFilesCancelled()
		}
		if s != StateCompleted {
			r.stats.AddError(item.FileName, s.String(), item.Error)
		}
	}
	if r.metrics != nil {
		r.metrics.IncFilesFinished(s.String())
	}
	r.emit()
}

func (r *run) cancelFrom(i int, cause error) {
	r.log.WithError(cause).WithField("remaining", len(r.items)-i).Warn("batch cancelled")
	for j := i; j < len(r.items); j++ {
		r.items[j].State = StateCancelled
		r.items[j].Error = cause.Error()
		if r.stats != nil {
			r.stats.IncrementFilesCancelled()
		}
		if r.metrics != nil {
			r.metrics.IncFilesFinished(StateCancelled.String())
		}
	}
	r.emit()
}

func (r *run) observe(phase string, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObservePhaseDuration(phase, time.Since(start).Seconds())
	}
}

func (r *run) emit() {
	if r.onProgress == nil {
		return
	}
	snapshot := make([]Progress, len(r.items))
	for i, it := range r.items {
		snapshot[i] = it.Progress()
	}
	r.onProgress(snapshot)
}
