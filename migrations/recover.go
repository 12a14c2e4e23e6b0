package migrations

import (
	"context"

	"github.com/evergreen-ci/logsplit/db"
	"github.com/evergreen-ci/logsplit/model"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Recover finishes every split recorded in the store's journal, oldest
// first, and returns how many it finished. Stores without a journal have
// nothing to recover.
func (d *Driver) Recover(ctx context.Context) (int, error) {
	journal, ok := d.store.(Journal)
	if !ok {
		return 0, nil
	}

	records, err := journal.FindPendingSplits(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "finding pending splits")
	}

	for i := range records {
		if err = d.recoverSplit(ctx, journal, &records[i]); err != nil {
			return i, errors.Wrapf(err, "resuming split of chunk '%s'", records[i].ID.Hex())
		}
		d.observer.SplitRecovered(&records[i])
	}

	return len(records), nil
}

func (d *Driver) recoverSplit(ctx context.Context, journal Journal, record *model.SplitRecord) (err error) {
	ctx, span := tracer.Start(ctx, "recover-split", trace.WithAttributes(
		attribute.String(chunkIDAttribute, record.ID.Hex()),
		attribute.String(buildIDAttribute, record.BuildID.Hex()),
		attribute.Int(incAttribute, record.Inc),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	original, err := d.store.FindChunk(ctx, record.ID)
	if db.ResultsNotFound(err) {
		// The original is deleted last, so every other write already
		// happened.
		return errors.Wrap(journal.RemoveSplit(ctx, record.ID), "removing completed split record")
	}
	if err != nil {
		return errors.Wrap(err, "finding original chunk")
	}

	if original.Seq != record.Seq || !original.Scope().Equal(record.Scope()) {
		return errors.Errorf("chunk is at seq %d in %s, but the split was recorded at seq %d in %s",
			original.Seq, original.Scope(), record.Seq, record.Scope())
	}

	replacements := model.Split(original, record.MaxSize, model.RecordedIDs(record.ReplacementIDs))
	if len(replacements) != len(record.ReplacementIDs) {
		return errors.Errorf("recomputed split has %d chunks, but %d were recorded",
			len(replacements), len(record.ReplacementIDs))
	}

	return applySplit(ctx, d.store, journal, record, replacements)
}
