package migrations

import (
	"context"

	"github.com/evergreen-ci/logsplit"
	"github.com/evergreen-ci/logsplit/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/evergreen-ci/logsplit/migrations"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
)

const (
	chunkIDAttribute = "logsplit.chunk_id"
	buildIDAttribute = "logsplit.build_id"
	testIDAttribute  = "logsplit.test_id"
	incAttribute     = "logsplit.inc"
)

// Options configure a Driver.
type Options struct {
	// MaxSize is the largest payload, in bytes, a chunk may hold.
	MaxSize int
	// ProgressInterval is the number of chunks scanned between progress
	// events.
	ProgressInterval int
	// UseTransactions applies each split in a single transaction when the
	// store supports it.
	UseTransactions bool
	// DryRun evaluates every chunk and reports what would be split without
	// writing anything.
	DryRun bool
}

// Validate fills in defaults.
func (o *Options) Validate() error {
	if o.MaxSize < 0 {
		return errors.Errorf("max size must be positive, got %d", o.MaxSize)
	}
	if o.MaxSize == 0 {
		o.MaxSize = logsplit.DefaultMaxChunkSize
	}
	if o.ProgressInterval < 0 {
		return errors.Errorf("progress interval must be positive, got %d", o.ProgressInterval)
	}
	if o.ProgressInterval == 0 {
		o.ProgressInterval = logsplit.DefaultProgressInterval
	}

	return nil
}

// Report summarizes a driver run.
type Report struct {
	Scanned     int `bson:"scanned" json:"scanned" yaml:"scanned"`
	Oversized   int `bson:"oversized" json:"oversized" yaml:"oversized"`
	Split       int `bson:"split" json:"split" yaml:"split"`
	Degenerate  int `bson:"degenerate" json:"degenerate" yaml:"degenerate"`
	ChunksAdded int `bson:"chunks_added" json:"chunks_added" yaml:"chunks_added"`
	Recovered   int `bson:"recovered" json:"recovered" yaml:"recovered"`
}

// Driver enforces the maximum chunk size over a whole store in a single
// pass.
type Driver struct {
	store    Store
	opts     Options
	observer Observer

	scannedCounter metric.Int64Counter
	splitCounter   metric.Int64Counter
}

// NewDriver returns a driver over store. A nil observer discards events.
func NewDriver(store Store, opts Options, observer Observer) (*Driver, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}
	if observer == nil {
		observer = NopObserver{}
	}

	scanned, err := meter.Int64Counter("logsplit.chunks.scanned",
		metric.WithDescription("Log chunks checked against the maximum size."))
	if err != nil {
		return nil, errors.Wrap(err, "creating scanned chunks counter")
	}
	split, err := meter.Int64Counter("logsplit.chunks.split",
		metric.WithDescription("Oversized log chunks replaced by smaller ones."))
	if err != nil {
		return nil, errors.Wrap(err, "creating split chunks counter")
	}

	return &Driver{
		store:          store,
		opts:           opts,
		observer:       observer,
		scannedCounter: scanned,
		splitCounter:   split,
	}, nil
}

// Run resumes any interrupted splits and then scans every chunk once in
// ascending ID order, splitting each oversized chunk it finds. The first
// error aborts the run; splits completed before it remain in place.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	if !d.opts.DryRun {
		recovered, err := d.Recover(ctx)
		report.Recovered = recovered
		if err != nil {
			return report, errors.Wrap(err, "resuming interrupted splits")
		}
	}

	it, err := d.store.ScanChunks(ctx)
	if err != nil {
		return report, errors.Wrap(err, "scanning chunks")
	}

	defer func() {
		grip.Warning(message.WrapError(it.Close(ctx), message.Fields{
			"message": "could not close chunk scan",
		}))
	}()

	return report, d.scan(ctx, it, report)
}

func (d *Driver) scan(ctx context.Context, it model.ChunkIterator, report *Report) error {
	for it.Next(ctx) {
		chunk := it.Item()
		if report.Scanned > 0 && report.Scanned%d.opts.ProgressInterval == 0 {
			d.observer.Progress(report.Scanned, chunk.ID)
		}
		report.Scanned++
		d.scannedCounter.Add(ctx, 1)

		size := chunk.Size()
		if size <= d.opts.MaxSize {
			continue
		}
		report.Oversized++

		// Cursors hand out documents read ahead of time, so the seq may
		// predate the shift of an earlier split in the same scope.
		current, err := d.store.FindChunk(ctx, chunk.ID)
		if err != nil {
			return errors.Wrapf(err, "re-reading chunk '%s'", chunk.ID.Hex())
		}
		chunk = current
		d.observer.OversizedChunk(chunk, size)

		replacements := model.Split(chunk, d.opts.MaxSize, model.NewIDs())
		plan := model.PlanRenumbering(chunk, replacements)
		if plan.IsNoop() {
			report.Degenerate++
			d.observer.DegenerateChunk(chunk, size)
			continue
		}

		if !d.opts.DryRun {
			if err := d.splitChunk(ctx, chunk, replacements); err != nil {
				return errors.Wrapf(err, "splitting chunk '%s'", chunk.ID.Hex())
			}
			d.splitCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int(incAttribute, plan.Inc)))
			d.observer.ChunkSplit(chunk, replacements)
		}
		report.Split++
		report.ChunksAdded += plan.Inc
	}

	return errors.Wrap(it.Err(), "scanning chunks")
}

func (d *Driver) splitChunk(ctx context.Context, chunk *model.LogChunk, replacements []model.LogChunk) (err error) {
	ctx, span := tracer.Start(ctx, "split-chunk", trace.WithAttributes(chunkAttributes(chunk, len(replacements)-1)...))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if tx, ok := d.store.(Transactor); ok && d.opts.UseTransactions {
		return tx.WithTransaction(ctx, func(ctx context.Context) error {
			record, err := d.planSplit(ctx, chunk, replacements)
			if err != nil {
				return err
			}
			return applySplit(ctx, d.store, nil, record, replacements)
		})
	}

	record, err := d.planSplit(ctx, chunk, replacements)
	if err != nil {
		return err
	}

	journal, _ := d.store.(Journal)
	if journal != nil {
		if err = journal.RecordSplit(ctx, record); err != nil {
			return errors.Wrap(err, "recording split")
		}
	}

	return applySplit(ctx, d.store, journal, record, replacements)
}

func (d *Driver) planSplit(ctx context.Context, chunk *model.LogChunk, replacements []model.LogChunk) (*model.SplitRecord, error) {
	seq, err := ownerSeq(ctx, d.store, chunk.Scope())
	if err != nil {
		return nil, errors.Wrapf(err, "reading counter of %s", chunk.Scope())
	}

	return model.NewSplitRecord(chunk, replacements, seq, d.opts.MaxSize), nil
}

// applySplit performs the writes of a split in order: shift the siblings
// after the original, increment the owner's counter, insert the
// replacements and delete the original. Every step can be repeated without
// changing the outcome, so an interrupted split is finished by calling
// applySplit again with the same record. A nil journal skips stage
// tracking.
func applySplit(ctx context.Context, store Store, journal Journal, record *model.SplitRecord, replacements []model.LogChunk) error {
	plan := record.Renumbering()
	advance := func(stage model.SplitStage) error {
		if journal == nil {
			return nil
		}
		return errors.Wrapf(journal.SetSplitStage(ctx, record.ID, stage), "advancing split to stage '%s'", stage)
	}

	if _, err := store.ShiftChunks(ctx, plan.Scope, plan.AfterSeq, plan.Inc, record.ID); err != nil {
		return errors.Wrap(err, "shifting sibling chunks")
	}
	if err := advance(model.SplitStageSiblingsShifted); err != nil {
		return err
	}

	applied, err := store.IncrementOwnerSeq(ctx, plan.Scope, record.OwnerSeq, plan.Inc)
	if err != nil {
		return errors.Wrap(err, "incrementing owner counter")
	}
	if !applied {
		current, err := ownerSeq(ctx, store, plan.Scope)
		if err != nil {
			return errors.Wrapf(err, "reading counter of %s", plan.Scope)
		}
		if current != record.OwnerSeq+plan.Inc {
			return errors.Errorf("counter of %s is %d, expected %d before the split or %d after it",
				plan.Scope, current, record.OwnerSeq, record.OwnerSeq+plan.Inc)
		}
	}
	if err = advance(model.SplitStageOwnerIncremented); err != nil {
		return err
	}

	if err = store.InsertChunks(ctx, replacements); err != nil {
		return errors.Wrap(err, "inserting replacement chunks")
	}
	if err = advance(model.SplitStageReplacementsInserted); err != nil {
		return err
	}

	if err = store.DeleteChunk(ctx, record.ID); err != nil {
		return errors.Wrap(err, "deleting original chunk")
	}

	if journal != nil {
		return errors.Wrap(journal.RemoveSplit(ctx, record.ID), "removing split record")
	}

	return nil
}

func chunkAttributes(chunk *model.LogChunk, inc int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(chunkIDAttribute, chunk.ID.Hex()),
		attribute.String(buildIDAttribute, chunk.BuildID.Hex()),
		attribute.Int(incAttribute, inc),
	}
	if chunk.TestID != nil {
		attrs = append(attrs, attribute.String(testIDAttribute, chunk.TestID.Hex()))
	}

	return attrs
}
