package units

import (
	"context"
	"fmt"

	"github.com/evergreen-ci/logsplit/migrations"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const (
	splitChunksJobName  = "split-oversized-chunks"
	repairSplitsJobName = "repair-interrupted-splits"
)

func init() {
	registry.AddJobType(splitChunksJobName, func() amboy.Job {
		return makeSplitChunksJob(splitChunksJobName)
	})
	registry.AddJobType(repairSplitsJobName, func() amboy.Job {
		return makeSplitChunksJob(repairSplitsJobName)
	})
}

type splitChunksJob struct {
	job.Base `bson:"metadata" json:"metadata" yaml:"metadata"`
	Options  migrations.Options `bson:"options" json:"options" yaml:"options"`
	Report   *migrations.Report `bson:"report,omitempty" json:"report,omitempty" yaml:"report,omitempty"`

	store    migrations.Store
	observer migrations.Observer
}

func makeSplitChunksJob(name string) *splitChunksJob {
	return &splitChunksJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    name,
				Version: 0,
			},
		},
	}
}

// NewSplitChunksJob returns a job that resumes interrupted splits and then
// splits every oversized chunk in store.
func NewSplitChunksJob(store migrations.Store, opts migrations.Options, observer migrations.Observer, id string) amboy.Job {
	j := makeSplitChunksJob(splitChunksJobName)
	j.store = store
	j.Options = opts
	j.observer = observer
	j.SetID(fmt.Sprintf("%s.%s", splitChunksJobName, id))

	return j
}

// NewRepairSplitsJob returns a job that only resumes the splits recorded in
// store's journal.
func NewRepairSplitsJob(store migrations.Store, observer migrations.Observer, id string) amboy.Job {
	j := makeSplitChunksJob(repairSplitsJobName)
	j.store = store
	j.observer = observer
	j.SetID(fmt.Sprintf("%s.%s", repairSplitsJobName, id))

	return j
}

// SplitReport returns the report of a finished split or repair job, or nil
// if the job is of another type or did not get far enough to produce one.
func SplitReport(j amboy.Job) *migrations.Report {
	sj, ok := j.(*splitChunksJob)
	if !ok {
		return nil
	}

	return sj.Report
}

func (j *splitChunksJob) Run(ctx context.Context) {
	defer j.MarkComplete()

	if j.store == nil {
		j.AddError(errors.New("store is not set"))
		return
	}

	d, err := migrations.NewDriver(j.store, j.Options, j.observer)
	if err != nil {
		j.AddError(errors.Wrap(err, "creating split driver"))
		return
	}

	if j.Type().Name == repairSplitsJobName {
		recovered, err := d.Recover(ctx)
		j.Report = &migrations.Report{Recovered: recovered}
		j.AddError(errors.Wrap(err, "resuming interrupted splits"))
	} else {
		j.Report, err = d.Run(ctx)
		j.AddError(errors.Wrap(err, "splitting oversized chunks"))
	}

	grip.Info(message.Fields{
		"message":      "finished job",
		"job":          j.ID(),
		"job_type":     j.Type().Name,
		"dry_run":      j.Options.DryRun,
		"scanned":      j.Report.Scanned,
		"oversized":    j.Report.Oversized,
		"split":        j.Report.Split,
		"degenerate":   j.Report.Degenerate,
		"chunks_added": j.Report.ChunksAdded,
		"recovered":    j.Report.Recovered,
		"errors":       j.HasErrors(),
	})
}
