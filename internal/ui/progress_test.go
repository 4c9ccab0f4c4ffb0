package ui

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock returns a tracker whose clock only moves through advance.
func fakeClock() (*ProgressTracker, func(time.Duration)) {
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	tr := NewProgressTracker()
	tr.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	return tr, func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
}

func TestProgressTracker_UnstartedStage(t *testing.T) {
	tr := NewProgressTracker()

	st := tr.Stage(StageEmbedding)

	assert.False(t, st.Started)
	assert.False(t, st.Done)
	assert.Zero(t, st.Progress)
}

func TestProgressTracker_StagesAdvanceIndependently(t *testing.T) {
	// Given: lexical and embedding progress interleaved
	tr := NewProgressTracker()
	tr.Update(ProgressEvent{Stage: StageLexical, Current: 128, Total: 256})
	tr.Update(ProgressEvent{Stage: StageEmbedding, Current: 64, Total: 256})
	tr.Update(ProgressEvent{Stage: StageLexical, Current: 256, Total: 256})

	// Then: each stage keeps its own count
	lex := tr.Stage(StageLexical)
	emb := tr.Stage(StageEmbedding)
	assert.True(t, lex.Done)
	assert.InDelta(t, 1.0, lex.Progress, 1e-9)
	assert.False(t, emb.Done)
	assert.InDelta(t, 0.25, emb.Progress, 1e-9)
	assert.Equal(t, StageLexical, tr.Latest())
}

func TestProgressTracker_ZeroTotalIsNotDone(t *testing.T) {
	tr := NewProgressTracker()
	tr.Update(ProgressEvent{Stage: StageStoring, Message: "parents"})

	st := tr.Stage(StageStoring)

	assert.True(t, st.Started)
	assert.False(t, st.Done)
	assert.Zero(t, st.ETA)
}

func TestProgressTracker_RateAndSmoothedETA(t *testing.T) {
	// Given: a stage that started at t0
	tr, advance := fakeClock()
	tr.Update(ProgressEvent{Stage: StageEmbedding, Current: 0, Total: 100})

	// When: a quarter is done after 10s
	advance(10 * time.Second)
	tr.Update(ProgressEvent{Stage: StageEmbedding, Current: 25, Total: 100})
	st := tr.Stage(StageEmbedding)

	// Then: the first estimate is the plain extrapolation
	assert.InDelta(t, 2.5, st.Rate, 1e-9)
	assert.InDelta(t, 30.0, st.ETA.Seconds(), 1e-6)

	// When: half is done after 20s
	advance(10 * time.Second)
	tr.Update(ProgressEvent{Stage: StageEmbedding, Current: 50, Total: 100})
	st = tr.Stage(StageEmbedding)

	// Then: the new 20s estimate is blended with the previous 30s
	assert.InDelta(t, 27.0, st.ETA.Seconds(), 1e-6)

	// When: done
	tr.Update(ProgressEvent{Stage: StageEmbedding, Current: 100, Total: 100})

	// Then: no ETA
	assert.Zero(t, tr.Stage(StageEmbedding).ETA)
}

func TestProgressTracker_Counts(t *testing.T) {
	tr := NewProgressTracker()
	tr.AddError(ErrorEvent{Err: errors.New("batch failed")})
	tr.AddError(ErrorEvent{Err: errors.New("slow"), IsWarn: true})
	tr.AddError(ErrorEvent{Err: errors.New("slow"), IsWarn: true})

	errs, warns := tr.Counts()

	assert.Equal(t, 1, errs)
	assert.Equal(t, 2, warns)
}

func TestProgressTracker_ConcurrentUpdates(t *testing.T) {
	tr := NewProgressTracker()
	var wg sync.WaitGroup
	for _, s := range []Stage{StageLexical, StageEmbedding} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 100; i++ {
				tr.Update(ProgressEvent{Stage: s, Current: i, Total: 100})
				_ = tr.Stage(s)
			}
		}()
	}
	wg.Wait()

	assert.True(t, tr.Stage(StageLexical).Done)
	assert.True(t, tr.Stage(StageEmbedding).Done)
}
