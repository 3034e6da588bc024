package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"entitlement-server/internal/config"
	"entitlement-server/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetSyncService 把订阅记录单向镜像到 Google Sheet，供运营查看。
// 数据库是唯一的数据源，表格只写不读回。nil 表示未启用，所有方法直接返回。
type SheetSyncService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	log           zerolog.Logger
}

var sheetHeader = []any{"account_id", "username", "plan", "max_devices", "start_date", "end_date", "is_active", "updated_at"}

func NewSheetSyncService(ctx context.Context, cfg config.SheetsConfig, log zerolog.Logger, opts ...option.ClientOption) (*SheetSyncService, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.Credentials != "" {
		// 读取凭证文件
		b, err := os.ReadFile(cfg.Credentials)
		if err != nil {
			return nil, err
		}

		// 使用服务账号授权
		creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("无法加载凭证: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s := &SheetSyncService{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		log:           log.With().Str("component", "sheetsync").Logger(),
	}
	if err := s.checkSheet(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// checkSheet 启动时确认工作表存在
func (s *SheetSyncService) checkSheet(ctx context.Context) error {
	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("获取Spreadsheet信息失败: %w", err)
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.sheetName {
			return nil
		}
	}
	return fmt.Errorf("工作表'%s'不存在", s.sheetName)
}

func entitlementRow(e *model.Entitlement, username string) []any {
	return []any{
		strconv.FormatUint(uint64(e.AccountID), 10),
		username,
		string(e.Tier),
		e.DeviceQuota,
		e.ValidFrom.Format(time.RFC3339),
		e.ValidUntil.Format(time.RFC3339),
		e.Active,
		e.UpdatedAt.Format(time.RFC3339),
	}
}

// SyncEntitlement 按账号 ID 更新表格中的行，找不到则追加。
func (s *SheetSyncService) SyncEntitlement(ctx context.Context, e *model.Entitlement, username string) error {
	if s == nil {
		return nil
	}

	// 先检查Sheet中是否已存在该账号
	keyResp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A2:A").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("查询Sheet数据失败: %w", err)
	}

	key := strconv.FormatUint(uint64(e.AccountID), 10)
	rowIndex := 0
	for i, row := range keyResp.Values {
		if len(row) > 0 && fmt.Sprint(row[0]) == key {
			rowIndex = i + 2 // 数据从第 2 行开始
			break
		}
	}

	values := &sheets.ValueRange{Values: [][]any{entitlementRow(e, username)}}
	if rowIndex > 0 {
		rangeData := fmt.Sprintf("%s!A%d:H%d", s.sheetName, rowIndex, rowIndex)
		_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, values).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
	} else {
		_, err = s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A2:H", values).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
	}
	if err != nil {
		return fmt.Errorf("同步到Google Sheet失败: %w", err)
	}

	s.log.Debug().Uint("account_id", e.AccountID).Msg("订阅已同步到Google Sheet")
	return nil
}

// Rebuild 用数据库中的全部订阅覆盖表格内容（含表头）。
func (s *SheetSyncService) Rebuild(ctx context.Context, entitlements []model.Entitlement, usernames map[uint]string) error {
	if s == nil {
		return nil
	}

	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.sheetName+"!A1:H", &sheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("清空工作表失败: %w", err)
	}

	values := [][]any{sheetHeader}
	for i := range entitlements {
		e := &entitlements[i]
		values = append(values, entitlementRow(e, usernames[e.AccountID]))
	}

	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.sheetName+"!A1:H", &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("批量同步到Google Sheet失败: %w", err)
	}

	s.log.Info().Int("rows", len(entitlements)).Msg("已重建Google Sheet订阅镜像")
	return nil
}
