package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"entitlement-server/internal/config"
	"entitlement-server/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type sheetCall struct {
	Method string
	Path   string
	Values [][]any
}

// fakeSheets 模拟 Sheets API 中本服务用到的几个接口。
type fakeSheets struct {
	mu    sync.Mutex
	title string
	keys  [][]any
	calls []sheetCall
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := sheetCall{Method: r.Method, Path: r.URL.Path}
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		var body struct {
			Values [][]any `json:"values"`
		}
		if json.Unmarshal(raw, &body) == nil {
			call.Values = body.Values
		}
	}
	f.calls = append(f.calls, call)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && !strings.Contains(r.URL.Path, "/values/"):
		_ = json.NewEncoder(w).Encode(map[string]any{
			"spreadsheetId": "sid",
			"sheets":        []any{map[string]any{"properties": map[string]any{"title": f.title}}},
		})
	case r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{"values": f.keys})
	default:
		_, _ = w.Write([]byte("{}"))
	}
}

func (f *fakeSheets) lastCall() sheetCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestSheetSync(t *testing.T, fake *fakeSheets) (*SheetSyncService, error) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := config.SheetsConfig{Enabled: true, SpreadsheetID: "sid", SheetName: "Entitlements"}
	return NewSheetSyncService(context.Background(), cfg, zerolog.Nop(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
}

func testEntitlement(accountID uint) *model.Entitlement {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &model.Entitlement{
		AccountID:   accountID,
		Tier:        model.TierPremium,
		DeviceQuota: 10,
		ValidFrom:   now,
		ValidUntil:  now.Add(30 * 24 * time.Hour),
		Active:      true,
		UpdatedAt:   now,
	}
}

func TestSheetSyncDisabled(t *testing.T) {
	s, err := NewSheetSyncService(context.Background(), config.SheetsConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, s.SyncEntitlement(context.Background(), testEntitlement(1), "a"))
	assert.NoError(t, s.Rebuild(context.Background(), nil, nil))
}

func TestSheetSyncMissingSheet(t *testing.T) {
	_, err := newTestSheetSync(t, &fakeSheets{title: "Other"})
	assert.Error(t, err)
}

func TestSyncEntitlement(t *testing.T) {
	fake := &fakeSheets{title: "Entitlements", keys: [][]any{{"7"}, {"42"}}}
	s, err := newTestSheetSync(t, fake)
	require.NoError(t, err)
	ctx := context.Background()

	// 已存在的账号更新原来的行
	require.NoError(t, s.SyncEntitlement(ctx, testEntitlement(42), "alice"))
	call := fake.lastCall()
	assert.Equal(t, http.MethodPut, call.Method)
	assert.Contains(t, call.Path, "Entitlements!A3:H3")
	require.Len(t, call.Values, 1)
	assert.Equal(t, "42", call.Values[0][0])
	assert.Equal(t, "alice", call.Values[0][1])
	assert.Equal(t, "premium", call.Values[0][2])

	// 新账号追加
	require.NoError(t, s.SyncEntitlement(ctx, testEntitlement(5), "bob"))
	call = fake.lastCall()
	assert.Equal(t, http.MethodPost, call.Method)
	assert.True(t, strings.HasSuffix(call.Path, ":append"), call.Path)
}

func TestRebuild(t *testing.T) {
	fake := &fakeSheets{title: "Entitlements"}
	s, err := newTestSheetSync(t, fake)
	require.NoError(t, err)

	entitlements := []model.Entitlement{*testEntitlement(1), *testEntitlement(2)}
	require.NoError(t, s.Rebuild(context.Background(), entitlements, map[uint]string{1: "a", 2: "b"}))

	call := fake.lastCall()
	assert.Equal(t, http.MethodPut, call.Method)
	require.Len(t, call.Values, 3)
	assert.Equal(t, "account_id", call.Values[0][0])
	assert.Equal(t, "b", call.Values[2][1])
}
