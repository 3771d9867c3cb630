package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"wisefido-config/internal/domain"
)

// ChangeHistoryExportHeader 审计历史导出表头
var ChangeHistoryExportHeader = []string{
	"Timestamp",
	"Operation",
	"Config Key",
	"Config Type",
	"Scope",
	"Performed By",
	"Reason",
	"Target Version",
	"Target Date",
	"Snapshot ID",
	"Affected Count",
	"Success",
	"Error Details",
	"Execution Time (ms)",
}

// ExportChangeHistory 导出审计历史为 Excel 文件（运维对账用）
func (h *History) ExportChangeHistory(ctx context.Context, key string, scope *domain.Scope, fromDate, toDate *time.Time, limit int) ([]byte, error) {
	logs, err := h.GetChangeHistory(ctx, key, scope, fromDate, toDate, limit)
	if err != nil {
		return nil, err
	}
	return generateChangeHistoryExcel(logs)
}

// generateChangeHistoryExcel 生成审计历史 Excel 文件
func generateChangeHistoryExcel(logs []*domain.ChangeLogEntry) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	sheetName := "Change History"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	// 设置表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 写入表头
	for col, header := range ChangeHistoryExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	// 写入数据行
	for i, log := range logs {
		row := i + 2
		targetVersion := ""
		if log.RollbackTargetVersion != nil {
			targetVersion = fmt.Sprintf("%d", *log.RollbackTargetVersion)
		}
		targetDate := ""
		if log.RollbackTargetDate != nil {
			targetDate = log.RollbackTargetDate.Format(time.RFC3339)
		}
		values := []any{
			log.Timestamp.Format(time.RFC3339),
			string(log.OperationType),
			log.ConfigKey,
			string(log.ConfigType),
			log.Scope.Key(),
			log.PerformedBy,
			log.Reason,
			targetVersion,
			targetDate,
			log.SnapshotID,
			log.AffectedCount,
			log.Success,
			log.ErrorDetails,
			log.ExecutionTimeMs,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	// 列宽
	columnWidths := []float64{22, 16, 30, 15, 28, 18, 30, 14, 22, 38, 14, 10, 40, 18}
	for i := range ChangeHistoryExportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if i < len(columnWidths) {
			if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	var buf []byte
	w, err := f.WriteToBuffer()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel buffer: %w", err)
	}
	buf = w.Bytes()
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}
	return buf, nil
}
