package sweep

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSweeper struct {
	freed [][]int
	err   error
	calls int
}

func (f *fakeSweeper) SweepExpired(_ context.Context) ([]int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.freed) == 0 {
		return nil, nil
	}
	next := f.freed[0]
	f.freed = f.freed[1:]
	return next, nil
}

func TestRunReturnsFreedNumbers(t *testing.T) {
	sweeper := &fakeSweeper{freed: [][]int{{3, 8}}}
	job := New(sweeper)

	freed, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run sweep job: %v", err)
	}
	if len(freed) != 2 || freed[0] != 3 || freed[1] != 8 {
		t.Fatalf("expected numbers [3 8] to be freed, got %v", freed)
	}
}

func TestRunWrapsSweepErrors(t *testing.T) {
	cause := errors.New("store down")
	job := New(&fakeSweeper{err: cause})

	if _, err := job.Run(context.Background()); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestStartStopsWhenContextIsDone(t *testing.T) {
	sweeper := &fakeSweeper{}
	job := New(sweeper)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Start to return after cancellation")
	}
	if sweeper.calls == 0 {
		t.Fatal("expected at least one sweep to run")
	}
}
