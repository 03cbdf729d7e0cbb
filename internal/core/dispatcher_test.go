package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversResults(t *testing.T) {
	d := NewDispatcher(2)
	ctx := context.Background()
	boom := errors.New("boom")

	ok := Submit(d, ctx, func(context.Context) (int, error) { return 42, nil })
	failed := Submit(d, ctx, func(context.Context) (string, error) { return "", boom })
	d.Wait()

	v, err := ok.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	_, err = failed.Result(ctx)
	assert.ErrorIs(t, err, boom)

	select {
	case <-ok.Done():
	default:
		t.Fatal("done channel not closed after Wait")
	}
}

func TestDispatcherFailureDoesNotCancelSiblings(t *testing.T) {
	d := NewDispatcher(0)
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		Submit(d, context.Background(), func(context.Context) (struct{}, error) {
			ran.Add(1)
			return struct{}{}, errors.New("fail")
		})
	}
	d.Wait()
	assert.Equal(t, int32(5), ran.Load())
}

func TestPendingResultHonoursContext(t *testing.T) {
	d := NewDispatcher(1)
	release := make(chan struct{})
	p := Submit(d, context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := p.Result(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
	d.Wait()
}

func TestDispatcherRunsServiceOperations(t *testing.T) {
	f := newFixture(t)
	study := f.study("S-1")
	g := f.group(study, "1", nil, 2)
	d := NewDispatcher(0)

	p := Submit(d, f.ctx, func(ctx context.Context) (AttachOutcome, error) {
		return f.svc.Attach(ctx, autoSession, AttachRequest{StudyID: study.ID, Rows: []AttachedBiosample{row("n1", &g)}})
	})
	out, err := p.Result(f.ctx)
	require.NoError(t, err)
	assert.Len(t, out.Created, 1)
	d.Wait()
}
