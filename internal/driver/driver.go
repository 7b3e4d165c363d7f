// Package driver implements the Sync Driver of §4.8: it builds a
// dependency DAG over the requested streams, topologically sorts it,
// and drives each stream in order through the Parallel-Sequential
// Orchestrator, emitting the RECORD/STATE/STATUS/LOG protocol messages
// of §6 as it goes.
package driver

import (
	"context"
	"fmt"
	"os"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sirupsen/logrus"

	"github.com/usedatabrew/klaviyo-source/internal/cerrors"
	"github.com/usedatabrew/klaviyo-source/internal/orchestrator"
	"github.com/usedatabrew/klaviyo-source/internal/protocol"
	"github.com/usedatabrew/klaviyo-source/internal/shard"
	"github.com/usedatabrew/klaviyo-source/internal/state"
	"github.com/usedatabrew/klaviyo-source/internal/stream"
)

// Driver runs a sync for a fixed registry of streams.
type Driver struct {
	streams  map[string]stream.Stream
	writer   *protocol.Writer
	log      *logrus.Entry
	spoolDir string
}

// New builds a Driver over the given streams, keyed by Stream.Name().
func New(streams []stream.Stream, writer *protocol.Writer, log *logrus.Entry, spoolDir string) *Driver {
	byName := make(map[string]stream.Stream, len(streams))
	for _, s := range streams {
		byName[s.Name()] = s
	}
	return &Driver{streams: byName, writer: writer, log: log, spoolDir: spoolDir}
}

// RunOptions configures one Read call.
type RunOptions struct {
	RequestedStreams  []string
	Initialize        bool
	Backfill          bool
	MaxStreamFailures int
	MaxSliceFailures  int
	CompressState     bool
}

// Read runs every requested stream in dependency order, per §4.8's
// algorithm, mutating st in place and writing every protocol message to
// the driver's writer. Backfill mode (opts.Backfill) ignores st on read
// (every stream starts from an empty watermark), never emits a checkpoint
// and never mutates st — end-of-run state must
// equal start-of-run state, bitwise on the serialized form (§8 property 8).
func (d *Driver) Read(ctx context.Context, st *state.Manager, opts RunOptions) error {
	ordered, err := d.resolve(opts.RequestedStreams)
	if err != nil {
		return d.fail(err)
	}

	runID, _ := gonanoid.New(8)
	runDir := d.spoolDir + "/run-" + runID
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return d.fail(fmt.Errorf("creating run spool directory %s: %w", runDir, err))
	}
	defer os.RemoveAll(runDir)

	var failedStreams []string
	for _, s := range ordered {
		if err := d.writer.WriteStatus(protocol.NewRunningStatus()); err != nil {
			return err
		}

		if err := s.OnBeforeRead(ctx); err != nil {
			return d.fail(err)
		}

		count, err := d.runStream(ctx, s, st, opts, runDir)

		if afterErr := s.OnAfterRead(ctx); afterErr != nil && err == nil {
			err = afterErr
		}

		if err == nil {
			if !opts.Backfill {
				msg, serr := d.buildStateMessage(st, opts)
				if serr != nil {
					return serr
				}
				if werr := d.writer.WriteState(msg); werr != nil {
					return werr
				}
			}
			if werr := d.writer.WriteStatus(protocol.NewStreamSuccessStatus(s.Name(), count)); werr != nil {
				return werr
			}
			continue
		}

		if cerrors.IsCancelled(err) {
			return d.fail(err)
		}

		var fatal *cerrors.FatalError
		if isType(err, &fatal) {
			return d.fail(err)
		}

		var nonFatal *cerrors.NonFatalError
		if isNonFatal(err, &nonFatal) {
			d.log.WithError(err).WithField("stream", s.Name()).Warn("non-fatal error, continuing")
			if !opts.Backfill {
				msg, serr := d.buildStateMessage(st, opts)
				if serr != nil {
					return serr
				}
				if werr := d.writer.WriteState(msg); werr != nil {
					return werr
				}
			}
			continue
		}

		if opts.MaxSliceFailures != 0 {
			if opts.MaxSliceFailures > 0 {
				opts.MaxSliceFailures--
			}
			err = &cerrors.SliceFailureError{Err: err, Slice: s.Name()}
			d.log.WithError(err).WithField("stream", s.Name()).Warn("slice failure within budget, continuing")
			if !opts.Backfill {
				msg, serr := d.buildStateMessage(st, opts)
				if serr != nil {
					return serr
				}
				if werr := d.writer.WriteState(msg); werr != nil {
					return werr
				}
			}
			continue
		}

		if opts.MaxStreamFailures == 0 {
			return d.fail(&cerrors.StreamFailureError{Stream: s.Name(), Err: err})
		}
		if opts.MaxStreamFailures > 0 {
			opts.MaxStreamFailures--
		}
		failedStreams = append(failedStreams, s.Name())
		d.log.WithError(err).WithField("stream", s.Name()).Warn("stream failed within budget, continuing")
		if werr := d.writer.WriteStatus(protocol.NewErroredStatus(err.Error(), "stream_failed")); werr != nil {
			return werr
		}
	}

	if len(failedStreams) > 0 {
		return d.fail(fmt.Errorf("streams failed: %v", failedStreams))
	}
	return nil
}

// runStream drives one stream's slices through the orchestrator,
// checkpointing state per §4.8 step 3 and folding each record's cursor
// value into the stream's watermark.
func (d *Driver) runStream(ctx context.Context, s stream.Stream, st *state.Manager, opts RunOptions, runDir string) (int64, error) {
	mode := stream.FullRefresh
	if s.CursorField() != "" {
		mode = stream.Incremental
	}

	current := state.StreamState{}
	if !opts.Backfill {
		current = st.Get(s.Name())
	}

	slices, err := s.Slices(ctx, mode, current)
	if err != nil {
		return 0, err
	}
	ranges := fromSlices(slices)

	schema, err := stream.CompileSchema(s.JSONSchema())
	if err != nil {
		return 0, &cerrors.FatalError{Err: fmt.Errorf("stream %q: %w", s.Name(), err)}
	}

	var count int64
	checkpointInterval := s.StateCheckpointInterval()

	checkpoint := func() error {
		if opts.Backfill {
			return nil
		}
		st.Set(s.Name(), current)
		msg, err := d.buildStateMessage(st, opts)
		if err != nil {
			return err
		}
		return d.writer.WriteState(msg)
	}

	consume := func(rec map[string]any) error {
		if err := stream.ValidateRecord(schema, rec); err != nil {
			return &cerrors.FatalError{Err: fmt.Errorf("stream %q: %w", s.Name(), err)}
		}
		if err := d.writer.WriteRecord(protocol.NewRecordMessage(s.Name(), rec, nowMs())); err != nil {
			return err
		}
		count++
		current = s.GetUpdatedState(current, rec)

		if checkpointInterval > 0 && count%int64(checkpointInterval) == 0 {
			return checkpoint()
		}
		return nil
	}

	producer := func(ctx context.Context, rng shard.Range, emit func(map[string]any) error) error {
		return s.ReadSlice(ctx, mode, rangeToSlice(rng), current, emit)
	}

	err = orchestrator.Run(ctx, ranges, producer, consume, orchestrator.Options{
		SpoolDir:    runDir,
		Endpoint:    s.Name(),
		Parallel:    s.Parallel(),
		Dedup:       s.Dedup(),
		PrimaryKey:  s.PrimaryKey(),
		CursorField: s.CursorField(),
		Log:         d.log,
		OnShardBoundary: func(rng shard.Range) {
			if checkpointInterval == 0 {
				_ = checkpoint()
			}
		},
	})
	if err != nil {
		return count, err
	}

	if err := checkpoint(); err != nil {
		return count, err
	}
	return count, nil
}

// buildStateMessage returns the STATE message to emit, gzip+base64
// compressing the snapshot when opts.CompressState is set (the
// compress_state config key's default-on behavior, §6).
func (d *Driver) buildStateMessage(st *state.Manager, opts RunOptions) (protocol.StateMessage, error) {
	snapshot := st.Snapshot()
	if !opts.CompressState {
		return protocol.NewStateMessage(snapshot), nil
	}

	encoded, err := state.Compress(snapshot)
	if err != nil {
		return protocol.StateMessage{}, err
	}
	return protocol.StateMessage{
		Type: protocol.TypeState,
		State: protocol.StateBody{
			Data:       encoded,
			Compressed: true,
			Encoding:   "gzip+base64",
		},
	}, nil
}

func (d *Driver) fail(err error) error {
	_ = d.writer.WriteStatus(protocol.NewErroredStatus(err.Error(), "fatal"))
	return err
}

func fromSlices(slices []stream.Slice) []shard.Range {
	out := make([]shard.Range, len(slices))
	for i, sl := range slices {
		out[i] = shard.Range{ID: sl.ID, From: sl.From, To: sl.To}
	}
	return out
}

func rangeToSlice(rng shard.Range) stream.Slice {
	return stream.Slice{ID: rng.ID, From: rng.From, To: rng.To}
}

func nowMs() int64 { return time.Now().UnixMilli() }

func isType(err error, target **cerrors.FatalError) bool {
	for err != nil {
		if fe, ok := err.(*cerrors.FatalError); ok {
			*target = fe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func isNonFatal(err error, target **cerrors.NonFatalError) bool {
	for err != nil {
		if nf, ok := err.(*cerrors.NonFatalError); ok {
			*target = nf
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
