package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReport_Lifecycle(t *testing.T) {
	in := MustNewTable(NumericColumn("a", 1, 2, 3))
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	r := NewReport("run-1")
	assert.Equal(t, StatusPending, r.Status)
	assert.Empty(t, r.StepsCompleted)
	assert.Empty(t, r.Errors)
	assert.Empty(t, r.Stats)

	r.Start(in, start)
	assert.Equal(t, StatusRunning, r.Status)
	assert.Equal(t, 3, r.RowsIn)
	assert.Equal(t, time.Duration(0), r.Duration())

	r.RecordSuccess("impute", StepStats{"status": "success"})
	out, _ := in.FilterRows([]bool{true, false, true})
	r.Finish(out, start.Add(2*time.Second))

	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, []string{"impute"}, r.StepsCompleted)
	assert.Equal(t, 2, r.RowsOut)
	assert.Equal(t, 1, r.Columns)
	assert.Equal(t, 2*time.Second, r.Duration())
}

func TestReport_FinishWithErrors(t *testing.T) {
	in := MustNewTable()
	r := NewReport("run-2")
	r.Start(in, time.Now())
	r.RecordFailure("outliers", errors.New("boom"), "trace")
	r.Finish(in, time.Now())

	assert.Equal(t, StatusCompletedWithErrors, r.Status)
	assert.Equal(t, []StepError{{Module: "outliers", Message: "boom", Trace: "trace"}}, r.Errors)
}

func TestIdentity_NilSafe(t *testing.T) {
	var id *Identity
	assert.Equal(t, "", id.UserID())
	assert.Equal(t, "", id.Name())

	id = &Identity{ID: "7", Username: "ana", Role: "admin"}
	assert.Equal(t, "7", id.UserID())
	assert.Equal(t, "ana", id.Name())
}
