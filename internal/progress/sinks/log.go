package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/paper-harvester/internal/progress"
)

// LogSink emits one structured log line per event. Routine document stages log
// at debug; terminal and failure stages log at info or warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		ce := s.logger.Check(levelFor(evt.Stage), "progress event")
		if ce == nil {
			continue
		}
		ce.Write(
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("year", evt.Year),
			zap.String("url", evt.URL),
			zap.String("title", evt.Title),
			zap.Int64("bytes", evt.Bytes),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageDownloadFailed, progress.StageAbandoned, progress.StageClassifyFailed:
		return zapcore.WarnLevel
	case progress.StageRunStart, progress.StageRunDone, progress.StageYearListed:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
