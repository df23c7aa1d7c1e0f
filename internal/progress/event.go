package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageTaskStart    Stage = "TASK_START"
	StageTaskDone     Stage = "TASK_DONE"
	StageTaskError    Stage = "TASK_ERROR"
	StageFetchStart   Stage = "FETCH_START"
	StageFetchDone    Stage = "FETCH_DONE"
	StageFetchError   Stage = "FETCH_ERROR"
	StageItemIngested Stage = "ITEM_INGESTED"
)

// terminal reports whether the stage ends a task attempt.
func (s Stage) terminal() bool {
	return s == StageTaskDone || s == StageTaskError
}

// Event captures a single component of task progress.
type Event struct {
	// TaskID identifies the crawl task.
	TaskID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or fetch milestone occurred.
	Stage Stage
	// Source scopes fetch and ingest events to a source kind.
	Source string
	// Items carries the number of raw items a fetch returned.
	Items int
	// Created is set on ITEM_INGESTED when the record was new.
	Created bool
	// Dur captures latency for fetches and task completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID == "" {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskStart, StageTaskDone, StageTaskError:
	case StageFetchStart, StageFetchDone, StageFetchError, StageItemIngested:
		if e.Source == "" {
			return fmt.Errorf("%s requires source", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Items < 0 {
		return errors.New("items must be >= 0")
	}
	return nil
}
