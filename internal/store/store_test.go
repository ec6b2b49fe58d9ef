package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"autoflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:store_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.ExecutionRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// 两种实现共用同一组行为测试
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("gorm", func(t *testing.T) { fn(t, NewGormStore(newTestDB(t))) })
}

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func record(automationID string, offset time.Duration, result models.EventResult) *models.ExecutionRecord {
	return &models.ExecutionRecord{
		TenantID:     "tenant_1",
		AutomationID: automationID,
		Timestamp:    base.Add(offset),
		TriggerType:  models.TriggerSchedule,
		TriggerFired: result != models.ResultSkipped,
		ConditionsEvaluated: []models.ConditionResult{
			{Condition: "count less_than 3", Passed: true, ActualValue: 1.0, Expected: 3.0},
		},
		ActionsTaken:   []interface{}{},
		ActionsSkipped: []models.SkippedAction{},
		Errors:         []string{},
		Warnings:       []string{},
		Result:         result,
	}
}

func TestStore_AppendAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := record("auto_1", 0, models.ResultSuccess)
		rec.TriggerDetails = map[string]interface{}{"schedule": "0 9 * * *"}

		require.NoError(t, s.Append(ctx, rec))
		require.NotEmpty(t, rec.ID)

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "auto_1", got.AutomationID)
		assert.Equal(t, models.ResultSuccess, got.Result)
		assert.True(t, got.Timestamp.Equal(base))
		assert.Equal(t, "0 9 * * *", got.TriggerDetails["schedule"])
		require.Len(t, got.ConditionsEvaluated, 1)
		assert.Equal(t, "count less_than 3", got.ConditionsEvaluated[0].Condition)

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.Error(t, s.Append(ctx, nil))
	})
}

func TestStore_RecentNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 4; i++ {
			require.NoError(t, s.Append(ctx, record("auto_1", time.Duration(i)*time.Minute, models.ResultSkipped)))
		}
		require.NoError(t, s.Append(ctx, record("auto_2", time.Hour, models.ResultSuccess)))

		recent, err := s.Recent(ctx, "auto_1", 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.True(t, recent[0].Timestamp.Equal(base.Add(3*time.Minute)))
		assert.True(t, recent[2].Timestamp.Equal(base.Add(time.Minute)))

		none, err := s.Recent(ctx, "auto_unknown", 10)
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestStore_ListFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, record("auto_1", -48*time.Hour, models.ResultFailed)))
		require.NoError(t, s.Append(ctx, record("auto_1", 0, models.ResultFailed)))
		require.NoError(t, s.Append(ctx, record("auto_1", time.Minute, models.ResultSuccess)))
		require.NoError(t, s.Append(ctx, record("auto_2", 0, models.ResultFailed)))

		failed, err := s.List(ctx, Query{AutomationID: "auto_1", Result: models.ResultFailed})
		require.NoError(t, err)
		assert.Len(t, failed, 2)

		recent, err := s.List(ctx, Query{AutomationID: "auto_1", Since: base.Add(-time.Hour)})
		require.NoError(t, err)
		assert.Len(t, recent, 2)

		both, err := s.List(ctx, Query{AutomationIDs: []string{"auto_1", "auto_2"}, Result: models.ResultFailed, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, both, 2)

		other, err := s.List(ctx, Query{TenantID: "tenant_2"})
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestMemoryStore_DuplicateID(t *testing.T) {
	s := NewMemoryStore()
	rec := record("auto_1", 0, models.ResultSuccess)
	rec.ID = "fixed"
	require.NoError(t, s.Append(context.Background(), rec))
	dup := record("auto_1", 0, models.ResultSuccess)
	dup.ID = "fixed"
	assert.Error(t, s.Append(context.Background(), dup))
}
