package service

import (
	"context"
	"testing"
	"time"

	"entitlement-server/internal/database"
	"entitlement-server/internal/model"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationLog(t *testing.T) {
	db := database.OpenTest(t)
	mClock := quartz.NewMock(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mClock.Set(base)
	oplog := NewOperationLog(db, mClock, zerolog.Nop())
	ctx := context.Background()

	mClock.Advance(time.Second)
	require.NoError(t, oplog.LogOperation(ctx, 1, model.ActionDeviceRegistered, "device", "phoneA", map[string]any{"device_name": "Phone"}))
	mClock.Advance(time.Second)
	oplog.Record(ctx, 1, model.ActionDeviceKickedOut, "device", "laptopB", nil)
	mClock.Advance(time.Second)
	oplog.Record(ctx, 2, model.ActionEntitlementGrant, "entitlement", "9", nil)

	logs, total, err := oplog.GetOperationLogs(ctx, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, logs, 3)
	assert.Equal(t, model.ActionEntitlementGrant, logs[0].Action)
	// 时间戳来自注入的时钟
	assert.True(t, logs[0].CreatedAt.Equal(base.Add(3*time.Second)))
	assert.True(t, logs[2].CreatedAt.Equal(base.Add(time.Second)))
	assert.Equal(t, `{"device_name":"Phone"}`, logs[2].Details)
	assert.Equal(t, "null", logs[1].Details)

	logs, total, err = oplog.GetAccountOperationLogs(ctx, 1, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ActionDeviceKickedOut, logs[0].Action)

	logs, _, err = oplog.GetAccountOperationLogs(ctx, 1, 2, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ActionDeviceRegistered, logs[0].Action)
}

func TestLogOperationRejectsUnencodableDetails(t *testing.T) {
	oplog := NewOperationLog(database.OpenTest(t), quartz.NewMock(t), zerolog.Nop())
	err := oplog.LogOperation(context.Background(), 1, "x", "y", "z", map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}
