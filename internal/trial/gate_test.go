package trial

import (
	"path/filepath"
	"testing"

	"createosaur-service/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "trial_test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.Migrate(db))
	return db
}

func TestLookupCreatesRecordWithFullAllotment(t *testing.T) {
	g := NewGate(newTestDB(t))

	usage, err := g.Lookup("fp-1", "session-1", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.GenerationsUsed)
	assert.Equal(t, frictionSchedule[0], usage.MaxGenerations)

	status := Check(usage)
	assert.Equal(t, StateActive, status.State)
	assert.Equal(t, frictionSchedule[0], status.Remaining)
}

func TestLookupRefreshesSessionID(t *testing.T) {
	g := NewGate(newTestDB(t))
	_, err := g.Lookup("fp-1", "session-a", "10.0.0.1")
	require.NoError(t, err)

	usage, err := g.Lookup("fp-1", "session-b", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "session-b", usage.SessionID)
}

func TestConsumeCountsMonotonically(t *testing.T) {
	g := NewGate(newTestDB(t))
	_, err := g.Lookup("fp-1", "s", "10.0.0.1")
	require.NoError(t, err)

	for want := 1; want <= frictionSchedule[0]; want++ {
		usage, err := g.Consume("fp-1")
		require.NoError(t, err)
		assert.Equal(t, want, usage.GenerationsUsed)
	}
}

func TestConsumeExhaustedDoesNotIncrement(t *testing.T) {
	g := NewGate(newTestDB(t))
	usage, err := g.Lookup("fp-1", "s", "10.0.0.1")
	require.NoError(t, err)

	for i := 0; i < usage.MaxGenerations; i++ {
		_, err := g.Consume("fp-1")
		require.NoError(t, err)
	}

	// 额度用尽后再扣减：报 ErrExhausted 且计数不变
	_, err = g.Consume("fp-1")
	require.ErrorIs(t, err, ErrExhausted)

	reloaded, err := g.Lookup("fp-1", "s", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, reloaded.MaxGenerations, reloaded.GenerationsUsed)
	assert.Equal(t, StateExhausted, Check(reloaded).State)
}

// 同 IP 每耗尽一个指纹，下一个新指纹的限额下调一档，最低 1 次
func TestProgressiveFrictionPerIP(t *testing.T) {
	g := NewGate(newTestDB(t))
	ip := "10.0.0.9"

	exhaust := func(fp string, expectMax int) {
		usage, err := g.Lookup(fp, "s", ip)
		require.NoError(t, err)
		require.Equal(t, expectMax, usage.MaxGenerations)
		for i := 0; i < expectMax; i++ {
			_, err := g.Consume(fp)
			require.NoError(t, err)
		}
	}

	exhaust("fp-round-1", 3)
	exhaust("fp-round-2", 2)
	exhaust("fp-round-3", 1)
	// 表到底后不再下调
	exhaust("fp-round-4", 1)
}

func TestFrictionIsolatedAcrossIPs(t *testing.T) {
	g := NewGate(newTestDB(t))

	usage, err := g.Lookup("fp-a", "s", "10.0.0.1")
	require.NoError(t, err)
	for i := 0; i < usage.MaxGenerations; i++ {
		_, err := g.Consume("fp-a")
		require.NoError(t, err)
	}

	// 别的 IP 不受影响，仍拿满额
	other, err := g.Lookup("fp-b", "s", "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, frictionSchedule[0], other.MaxGenerations)
}

func TestLookupRejectsEmptyFingerprint(t *testing.T) {
	g := NewGate(newTestDB(t))
	_, err := g.Lookup("   ", "s", "10.0.0.1")
	assert.Error(t, err)
}

func TestCheckNilUsageIsFresh(t *testing.T) {
	assert.Equal(t, StateFresh, Check(nil).State)
}
