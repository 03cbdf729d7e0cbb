package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEditGuardFlushesWhenOutermostExits(t *testing.T) {
	g := NewEditGuard()
	var fired []string

	g.Post(func() { fired = append(fired, "idle") })
	assert.Equal(t, []string{"idle"}, fired, "an idle guard runs posts immediately")

	g.Enter()
	g.Enter()
	g.Post(func() { fired = append(fired, "first") })
	g.Post(func() { fired = append(fired, "second") })
	g.Exit()
	assert.Equal(t, 1, g.Depth())
	assert.Len(t, fired, 1)

	g.Exit()
	assert.Equal(t, 0, g.Depth())
	assert.Equal(t, []string{"idle", "first", "second"}, fired)

	g.Exit()
	assert.Equal(t, 0, g.Depth(), "unbalanced exits are ignored")
}

func TestEditGuardPostFromFlushedCallback(t *testing.T) {
	g := NewEditGuard()
	var fired []string
	g.Enter()
	g.Post(func() {
		fired = append(fired, "outer")
		g.Post(func() { fired = append(fired, "inner") })
	})
	g.Exit()
	assert.Equal(t, []string{"outer", "inner"}, fired)
}

func TestEditGuardAwaitIdle(t *testing.T) {
	g := NewEditGuard()
	assert.True(t, g.AwaitIdle(context.Background(), 1, time.Millisecond))

	g.Enter()
	assert.False(t, g.AwaitIdle(context.Background(), 3, time.Millisecond), "gives up after the bounded wait")

	go func() {
		time.Sleep(5 * time.Millisecond)
		g.Exit()
	}()
	assert.True(t, g.AwaitIdle(context.Background(), 200, time.Millisecond))

	g.Enter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, g.AwaitIdle(ctx, 50, time.Second))
	g.Exit()
}

func TestProcessEditGuardIsShared(t *testing.T) {
	assert.Same(t, ProcessEditGuard(), ProcessEditGuard())
	svc := NewInMemoryService(NewDefaultRulesEngine())
	assert.Same(t, ProcessEditGuard(), svc.Guard())
}
