package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/ondemand-crawler/internal/progress"
)

// LogSink writes one log line per crawl milestone. Item ingestion is logged
// at debug, source failures at warn, everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level, msg := describe(evt.Stage)
		if ce := s.logger.Check(level, msg); ce != nil {
			ce.Write(fields(evt)...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func describe(stage progress.Stage) (zapcore.Level, string) {
	switch stage {
	case progress.StageTaskStart:
		return zapcore.InfoLevel, "crawl task started"
	case progress.StageTaskDone:
		return zapcore.InfoLevel, "crawl task finished"
	case progress.StageTaskError:
		return zapcore.WarnLevel, "crawl task attempt failed"
	case progress.StageFetchStart:
		return zapcore.DebugLevel, "source fetch started"
	case progress.StageFetchDone:
		return zapcore.InfoLevel, "source fetch finished"
	case progress.StageFetchError:
		return zapcore.WarnLevel, "source fetch failed"
	case progress.StageItemIngested:
		return zapcore.DebugLevel, "item ingested"
	default:
		return zapcore.InfoLevel, "progress event"
	}
}

func fields(evt progress.Event) []zap.Field {
	out := []zap.Field{zap.String("task_id", evt.TaskID)}
	if evt.Source != "" {
		out = append(out, zap.String("source", evt.Source))
	}
	switch evt.Stage {
	case progress.StageFetchDone:
		out = append(out, zap.Int("items", evt.Items), zap.Duration("dur", evt.Dur))
	case progress.StageItemIngested:
		out = append(out, zap.Bool("created", evt.Created))
	case progress.StageTaskDone, progress.StageFetchError, progress.StageTaskError:
		out = append(out, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		out = append(out, zap.String("note", evt.Note))
	}
	return out
}
