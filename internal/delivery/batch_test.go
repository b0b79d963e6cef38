package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchProcessor_Process(t *testing.T) {
	st := storetest.New()
	limiter := &fakeLimiter{}
	queue := &fakeQueue{}
	bp := NewBatchProcessor(st, limiter, queue, 2, discardLogger())

	alive := st.AddUser(models.User{Email: "a@example.com"}, nil)
	gone := st.AddUser(models.User{Email: "b@example.com"}, nil)
	st.DeleteUser(gone)

	sent := sampleJob()
	sent.UserID = alive
	sent.OccasionID = 99
	now := time.Now()
	st.PutLog(models.DeliveryLog{OccasionID: sent.OccasionID, UserID: alive, Channel: sent.Channel, ReminderDate: sent.Key().Date, SentAt: &now})

	jobs := []Job{}
	for i := 0; i < 3; i++ {
		j := sampleJob()
		j.UserID = alive
		j.OccasionID = uint(100 + i)
		jobs = append(jobs, j)
	}
	orphan := sampleJob()
	orphan.UserID = gone
	invalid := sampleJob()
	invalid.UserID = alive
	invalid.Channel = "fax"
	jobs = append(jobs, orphan, sent, invalid)

	res, err := bp.Process(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Enqueued: 3, Skipped: 2, Failed: 1}, res)
	assert.Len(t, queue.enqueued, 3)
}

func TestBatchProcessor_RateLimitedAndEnqueueErrors(t *testing.T) {
	st := storetest.New()
	id := st.AddUser(models.User{Email: "a@example.com"}, nil)
	job := sampleJob()
	job.UserID = id

	limited := NewBatchProcessor(st, &fakeLimiter{deny: true}, &fakeQueue{}, 0, discardLogger())
	res, err := limited.Process(context.Background(), []Job{job, job})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RateLimited)

	dupLimiter := &fakeLimiter{}
	dup := NewBatchProcessor(st, dupLimiter, &fakeQueue{err: ErrAlreadyQueued}, 0, discardLogger())
	res, err = dup.Process(context.Background(), []Job{job})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, dupLimiter.refunds, "an already queued job gives its attempt back")

	broken := NewBatchProcessor(st, &fakeLimiter{}, &fakeQueue{err: errors.New("redis down")}, 0, discardLogger())
	res, err = broken.Process(context.Background(), []Job{job})
	require.NoError(t, err, "item errors never abort the batch")
	assert.Equal(t, 1, res.Failed)
}

func TestBatchProcessor_StopsOnCancel(t *testing.T) {
	st := storetest.New()
	id := st.AddUser(models.User{Email: "a@example.com"}, nil)
	job := sampleJob()
	job.UserID = id

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bp := NewBatchProcessor(st, &fakeLimiter{}, &fakeQueue{}, 1, discardLogger())
	res, err := bp.Process(ctx, []Job{job, job})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Enqueued)
}
