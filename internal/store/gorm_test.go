package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlRecorder is a gorm logger that keeps every statement gorm builds.
type sqlRecorder struct {
	mu    sync.Mutex
	stmts []string
}

func (r *sqlRecorder) LogMode(logger.LogLevel) logger.Interface { return r }
func (r *sqlRecorder) Info(context.Context, string, ...interface{}) {}
func (r *sqlRecorder) Warn(context.Context, string, ...interface{}) {}
func (r *sqlRecorder) Error(context.Context, string, ...interface{}) {}

func (r *sqlRecorder) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stmts = append(r.stmts, sql)
}

func (r *sqlRecorder) last(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.stmts)
	return r.stmts[len(r.stmts)-1]
}

// newDryRunStore builds statements for Postgres without connecting to one.
func newDryRunStore(t *testing.T) (*Store, *sqlRecorder) {
	t.Helper()
	rec := &sqlRecorder{}
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=giftwise dbname=giftwise sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, Logger: rec})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return New(db), rec
}

const logConflictTarget = `ON CONFLICT ("occasion_id","user_id","channel","reminder_date") DO UPDATE SET `

func testKey() models.DeliveryKey {
	return models.DeliveryKey{OccasionID: 10, UserID: 1, Channel: models.ChannelMail, Date: time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)}
}

func TestMarkDelivered_KeepsFirstSentAt(t *testing.T) {
	st, rec := newDryRunStore(t)

	require.NoError(t, st.MarkDelivered(context.Background(), testKey(), "b***@example.com", time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC)))
	sql := rec.last(t)

	assert.Contains(t, sql, `INSERT INTO "delivery_logs"`)
	assert.Contains(t, sql, logConflictTarget)
	assert.Contains(t, sql, `"sent_at"=COALESCE(delivery_logs.sent_at,`)
	assert.Contains(t, sql, `"attempts"=delivery_logs.attempts + 1`)
	assert.NotContains(t, sql, "WHERE delivery_logs.sent_at IS NULL", "a confirmed send always lands")
}

func TestFailureUpserts_NeverTouchDeliveredRows(t *testing.T) {
	ctx := context.Background()
	st, rec := newDryRunStore(t)

	for name, write := range map[string]func() error{
		"failed attempt": func() error {
			return st.RecordFailedAttempt(ctx, testKey(), "b***@example.com", "smtp: 451")
		},
		"permanent failure": func() error {
			return st.MarkPermanentlyFailed(ctx, testKey(), "b***@example.com", "smtp: 550")
		},
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, write())
			sql := rec.last(t)

			assert.Contains(t, sql, logConflictTarget)
			assert.Regexp(t, `DO UPDATE SET .* WHERE delivery_logs\.sent_at IS NULL`, sql)
			assert.NotContains(t, sql, `"sent_at"=`, "failures never write sent_at on conflict")
		})
	}
}
