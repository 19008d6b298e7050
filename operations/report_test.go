package operations

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewRunReport(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := Completion{
		RunID:           "run-1",
		FailedOperation: "deploy",
		Err:             errors.New("denied"),
		Statuses:        []OperationStatus{{Name: "deploy", State: Failed}},
		StartedAt:       start,
		FinishedAt:      start.Add(time.Minute),
	}
	logs := []LogEvent{{Message: "Executing operation", Fields: map[string]any{"id": "x"}}}

	report := NewRunReport("provision", c, logs)
	logs[0].Fields["id"] = "mutated"

	assert.Equal(t, "run-1", report.ID)
	assert.Equal(t, "provision", report.Name)
	assert.False(t, report.Succeeded)
	require.NotNil(t, report.Err)
	assert.Equal(t, "deploy: denied", report.Err.Error())
	assert.Equal(t, "x", report.Logs[0].Fields["id"])

	ok := NewRunReport("", Completion{RunID: "run-2", Succeeded: true}, nil)
	assert.Nil(t, ok.Err)
	assert.Empty(t, ok.Logs)
}

func Test_MemoryReporter(t *testing.T) {
	t.Parallel()

	existing := RunReport{ID: "seed"}
	reporter := NewMemoryReporter(WithReports([]RunReport{existing}))

	require.NoError(t, reporter.AddReport(RunReport{ID: "run-1", Succeeded: true}))

	reports, err := reporter.GetReports()
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "seed", reports[0].ID)

	got, err := reporter.GetReport("run-1")
	require.NoError(t, err)
	assert.True(t, got.Succeeded)

	_, err = reporter.GetReport("missing")
	require.ErrorIs(t, err, ErrReportNotFound)
}
