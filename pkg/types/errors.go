package types

import (
	"context"
	"errors"
	"net"
	"os"
)

// 錯誤分類（taxonomy）：管線各階段以 %w 包裝這些哨兵值，
// 邊界層用 errors.Is 判斷重試與回報策略
var (
	// ErrTransient 暫時性網路錯誤（逾時、5xx、連線中斷），可重試
	ErrTransient = errors.New("transient network error")

	// ErrNotFound 上游資產不存在（4xx），不可重試
	ErrNotFound = errors.New("upstream asset not found")

	// ErrIntegrity 下載檔案未通過完整性驗證，不可重試且觸發清理
	ErrIntegrity = errors.New("integrity validation failed")

	// ErrPlanning 規劃輸入不合法（設定或字元集異常），僅該字型致命
	ErrPlanning = errors.New("chunk planning failed")

	// ErrCacheIO 版本快取無法讀寫；一律降級為「全部過期」
	ErrCacheIO = errors.New("version cache I/O failure")
)

// Retryable 回報錯誤是否值得重試
// 逾時與暫時性網路錯誤可重試；NotFound 與完整性錯誤永遠不重試
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrIntegrity) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
