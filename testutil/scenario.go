package testutil

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/evergreen-ci/logsplit/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScenarioLineSize is the payload size of every fixture line. Two of them
// fit in a default-sized chunk, three do not.
const ScenarioLineSize = 3 * 1024 * 1024

var scenarioDates = []time.Time{
	time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2015, time.February, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2015, time.March, 1, 0, 0, 0, 0, time.UTC),
}

// Scenario is a small fixture of one owner holding three chunks, the
// middle one too large: lines "1"; "2", "3"; "4", each ScenarioLineSize
// bytes. After a split the owner holds four one-line chunks.
type Scenario struct {
	Name   string
	Build  model.Build
	Test   *model.Test
	Chunks []model.LogChunk

	// ExpectedBuildSeq and ExpectedTestSeq are the owner counters after
	// the split.
	ExpectedBuildSeq int
	ExpectedTestSeq  int
	ExpectedStarted  []time.Time
}

// GlobalScenario puts the chunks directly under a build whose counter is 3.
func GlobalScenario() *Scenario {
	build := model.Build{ID: primitive.NewObjectID(), Name: "global_build", Seq: 3}
	return &Scenario{
		Name:             "global",
		Build:            build,
		Chunks:           scenarioChunks(model.Scope{BuildID: build.ID}),
		ExpectedBuildSeq: 4,
		ExpectedStarted:  []time.Time{scenarioDates[0], scenarioDates[1], scenarioDates[1], scenarioDates[2]},
	}
}

// TestScopedScenario puts the chunks under a test with counter 3 inside a
// build whose own counter is 0.
func TestScopedScenario() *Scenario {
	build := model.Build{ID: primitive.NewObjectID(), Name: "build", Seq: 0}
	test := model.Test{ID: primitive.NewObjectID(), Name: "test", BuildID: build.ID, Seq: 3}
	return &Scenario{
		Name:             "test",
		Build:            build,
		Test:             &test,
		Chunks:           scenarioChunks(model.Scope{BuildID: build.ID, TestID: &test.ID}),
		ExpectedBuildSeq: 0,
		ExpectedTestSeq:  4,
		ExpectedStarted:  []time.Time{scenarioDates[0], scenarioDates[1], scenarioDates[1], scenarioDates[2]},
	}
}

func scenarioChunks(scope model.Scope) []model.LogChunk {
	line := func(n int, started time.Time) model.Line {
		return model.Line{
			Time: started.Add(time.Duration(n) * time.Second),
			Data: strings.Repeat(strconv.Itoa(n), ScenarioLineSize),
		}
	}
	chunk := func(seq int, started time.Time, lines ...model.Line) model.LogChunk {
		return model.LogChunk{
			ID:      primitive.NewObjectID(),
			BuildID: scope.BuildID,
			TestID:  scope.TestID,
			Seq:     seq,
			Started: &started,
			Lines:   lines,
		}
	}

	return []model.LogChunk{
		chunk(1, scenarioDates[0], line(1, scenarioDates[0])),
		chunk(2, scenarioDates[1], line(2, scenarioDates[1]), line(3, scenarioDates[1])),
		chunk(3, scenarioDates[2], line(4, scenarioDates[2])),
	}
}

// Scope is the owner scope of the scenario's chunks.
func (s *Scenario) Scope() model.Scope {
	if s.Test != nil {
		return model.Scope{BuildID: s.Build.ID, TestID: &s.Test.ID}
	}

	return model.Scope{BuildID: s.Build.ID}
}

// Lines returns every line of the scenario in order.
func (s *Scenario) Lines() []model.Line {
	var lines []model.Line
	for _, chunk := range s.Chunks {
		lines = append(lines, chunk.Lines...)
	}

	return lines
}

// Insert writes the scenario's owner and chunks.
func (s *Scenario) Insert(ctx context.Context, fs FixtureStore) error {
	if err := fs.PutBuild(ctx, s.Build); err != nil {
		return errors.Wrapf(err, "inserting build of scenario '%s'", s.Name)
	}
	if s.Test != nil {
		if err := fs.PutTest(ctx, *s.Test); err != nil {
			return errors.Wrapf(err, "inserting test of scenario '%s'", s.Name)
		}
	}
	for _, chunk := range s.Chunks {
		if err := fs.PutChunk(ctx, chunk); err != nil {
			return errors.Wrapf(err, "inserting chunk %d of scenario '%s'", chunk.Seq, s.Name)
		}
	}

	return nil
}

// Check verifies the state after a split: the generic invariants of the
// scope, then the exact layout the scenario expects.
func (s *Scenario) Check(ctx context.Context, fs FixtureStore, maxSize int) error {
	if err := CheckScope(ctx, fs, s.Scope(), s.Lines(), maxSize); err != nil {
		return errors.Wrapf(err, "scenario '%s'", s.Name)
	}

	build, err := fs.Build(ctx, s.Build.ID)
	if err != nil {
		return err
	}
	if build.Seq != s.ExpectedBuildSeq {
		return violation("counter consistency", fmt.Sprintf("%s build seq", s.Name), build.Seq, s.ExpectedBuildSeq)
	}
	if s.Test != nil {
		test, err := fs.Test(ctx, s.Test.ID)
		if err != nil {
			return err
		}
		if test.Seq != s.ExpectedTestSeq {
			return violation("counter consistency", fmt.Sprintf("%s test seq", s.Name), test.Seq, s.ExpectedTestSeq)
		}
	}

	chunks, err := fs.Chunks(ctx, s.Scope())
	if err != nil {
		return errors.Wrapf(err, "reading chunks of scenario '%s'", s.Name)
	}
	if len(chunks) != len(s.ExpectedStarted) {
		return violation("chunk count", fmt.Sprintf("%s log count", s.Name), len(chunks), len(s.ExpectedStarted))
	}
	for i, chunk := range chunks {
		subject := fmt.Sprintf("%s log %d", s.Name, i+1)
		if chunk.Started == nil || !chunk.Started.Equal(s.ExpectedStarted[i]) {
			return violation("chronological order", subject+" start time", describeTime(chunk.Started), s.ExpectedStarted[i])
		}
		if len(chunk.Lines) != 1 {
			return violation("size bound", subject+" line count", len(chunk.Lines), 1)
		}
		if want := strconv.Itoa(i + 1); !strings.HasPrefix(chunk.Lines[0].Data, want) {
			return violation("line order", subject+" first line", describeLine(chunk.Lines[0]), want)
		}
	}

	return nil
}
