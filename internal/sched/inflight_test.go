package sched

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInflightAddRemove(t *testing.T) {
	f := NewInflight()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.True(t, f.Add("job1", cancel))
	assert.False(t, f.Add("job1", cancel), "duplicate job id must be rejected")
	assert.Equal(t, 1, f.Len())

	f.Remove("job1")
	assert.Equal(t, 0, f.Len())
}

func TestInflightCancelFiresContext(t *testing.T) {
	f := NewInflight()
	ctx, cancel := context.WithCancel(context.Background())
	f.Add("job1", cancel)

	assert.True(t, f.Cancel("job1"))
	assert.Error(t, ctx.Err(), "context must be cancelled")
}

func TestInflightCancelUnknownJob(t *testing.T) {
	f := NewInflight()
	assert.False(t, f.Cancel("nope"))
}
