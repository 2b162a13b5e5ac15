package scheduler

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	mu   sync.Mutex
	runs int
	err  error
}

func (j *countingJob) Run() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return j.err
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Runs() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func TestJobLease_SecondAcquireFailsUntilRelease(t *testing.T) {
	lease := &jobLease{}

	require.True(t, lease.acquire())
	assert.False(t, lease.acquire(), "held lease must not be re-acquired")

	lease.release()
	assert.True(t, lease.acquire())
}

func TestJobLease_ConcurrentAcquireAdmitsExactlyOne(t *testing.T) {
	lease := &jobLease{}

	var wg sync.WaitGroup
	acquired := make(chan bool, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acquired <- lease.acquire()
		}()
	}
	wg.Wait()
	close(acquired)

	wins := 0
	for ok := range acquired {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestAddJob_RejectsInvalidSchedule(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))
	err := s.AddJob("not a schedule", &countingJob{})
	assert.Error(t, err)
}

func TestRunNow_ExecutesOutsideSchedule(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))

	job := &countingJob{}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.Runs())

	failing := &countingJob{err: errors.New("cycle failed")}
	assert.Error(t, s.RunNow(failing))
}
