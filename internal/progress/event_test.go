package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		name    string
		evt     Event
		wantErr string
	}{
		{name: "task start", evt: Event{TaskID: "t", TS: now, Stage: StageTaskStart}},
		{name: "fetch done", evt: Event{TaskID: "t", TS: now, Stage: StageFetchDone, Source: "news", Items: 3}},
		{name: "missing task", evt: Event{TS: now, Stage: StageTaskStart}, wantErr: "task id"},
		{name: "missing ts", evt: Event{TaskID: "t", Stage: StageTaskStart}, wantErr: "timestamp"},
		{name: "fetch without source", evt: Event{TaskID: "t", TS: now, Stage: StageFetchStart}, wantErr: "requires source"},
		{name: "unknown stage", evt: Event{TaskID: "t", TS: now, Stage: "NOPE"}, wantErr: "unknown stage"},
		{name: "negative dur", evt: Event{TaskID: "t", TS: now, Stage: StageTaskDone, Dur: -1}, wantErr: "duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.evt.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
