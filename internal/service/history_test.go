package service

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"wisefido-config/internal/domain"
)

func TestGetVersionHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, value := range []string{`1`, `2`, `3`} {
		env.mustSet(t, SetRequest{
			Kind: domain.KindSetting, Key: "hist.key",
			Value: json.RawMessage(value), Scope: domain.GlobalScope(), Actor: "admin",
		})
	}

	history, err := env.engine.History.GetVersionHistory(ctx, domain.KindSetting, "hist.key", domain.GlobalScope(), 0)
	require.NoError(t, err)
	require.Len(t, history, 3)

	// 版本降序
	assert.Equal(t, 3, history[0].Version)
	assert.Equal(t, 1, history[2].Version)
	assert.JSONEq(t, `3`, string(history[0].Value))
	assert.Equal(t, "admin", history[0].CreatedBy)

	_, err = env.engine.History.GetVersionHistory(ctx, domain.KindSetting, "", domain.GlobalScope(), 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetChangeHistoryFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustSet(t, SetRequest{
		Kind: domain.KindSetting, Key: "ch.a",
		Value: json.RawMessage(`1`), Scope: domain.GlobalScope(), Actor: "admin",
	})
	env.mustSet(t, SetRequest{
		Kind: domain.KindSetting, Key: "ch.b",
		Value: json.RawMessage(`2`), Scope: domain.GlobalScope(), Actor: "admin",
	})

	logs, err := env.engine.History.GetChangeHistory(ctx, "", nil, nil, nil, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	logs, err = env.engine.History.GetChangeHistory(ctx, "ch.a", nil, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "ch.a", logs[0].ConfigKey)

	future := time.Now().Add(time.Hour)
	logs, err = env.engine.History.GetChangeHistory(ctx, "", nil, &future, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestGetChangeHistoryScopeFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustSet(t, SetRequest{
		Kind: domain.KindSetting, Key: "sc.key",
		Value: json.RawMessage(`1`), Scope: domain.GlobalScope(), Actor: "admin",
	})
	env.mustSet(t, SetRequest{
		Kind: domain.KindSetting, Key: "sc.key",
		Value: json.RawMessage(`2`), Scope: domain.ScopeOf("rachel", 0, 0), Actor: "admin",
	})

	// 精确作用域过滤：persona 作用域只返回该作用域的变更
	scope := domain.ScopeOf("rachel", 0, 0)
	logs, err := env.engine.History.GetChangeHistory(ctx, "", &scope, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Scope.Equal(scope))

	// 传全局作用域只返回全局变更，与不过滤不同
	global := domain.GlobalScope()
	logs, err = env.engine.History.GetChangeHistory(ctx, "", &global, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Scope.IsGlobal())
}

func TestExportChangeHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustSet(t, SetRequest{
		Kind: domain.KindSetting, Key: "xls.key",
		Value: json.RawMessage(`1`), Scope: domain.ScopeOf("rachel", 0, 0),
		Actor: "admin", Reason: "initial",
	})

	raw, err := env.engine.History.ExportChangeHistory(ctx, "", nil, nil, nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Change History")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ChangeHistoryExportHeader, rows[0])
	assert.Equal(t, string(domain.OpSet), rows[1][1])
	assert.Equal(t, "xls.key", rows[1][2])
	assert.Equal(t, "admin", rows[1][5])
}
