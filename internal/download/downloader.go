package download

// ============================================================================
// 職責說明：
// 1. 依版本查詢結果抓取字型二進位檔，落地到 <dir>/<fontID>/<version>/
// 2. 暫時性錯誤（逾時、5xx、連線中斷）以倍增退避重試到設定次數
// 3. 4xx 與完整性錯誤不重試；未通過驗證的檔案立即刪除
// 4. 傳輸先寫 .part 暫存檔，驗證通過後才改名為正式檔
// ============================================================================

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// Options 下載行為設定
type Options struct {
	Dir     string        // 下載根目錄
	Retries int           // 首次之外的重試次數
	Timeout time.Duration // 單次網路呼叫逾時
	Backoff time.Duration // 重試間隔基準，逐次倍增
}

// Downloader 字型二進位檔下載器
type Downloader struct {
	opts      Options
	validator *Validator
	client    *http.Client

	// OnRetry 在每次準備重試前呼叫，供回報層記錄；可為 nil
	OnRetry func(id types.FontID, attempt int, err error)
}

// New 建立下載器；逾時由每次嘗試的 context 控制
func New(opts Options, validator *Validator) *Downloader {
	return &Downloader{
		opts:      opts,
		validator: validator,
		client:    &http.Client{},
	}
}

// Fetch 下載並驗證單一字型
//
// 成功與失敗必為其一：回傳 (*types.Download, nil) 或 (nil, error)，
// 呼叫端必須處理兩個分支
func (d *Downloader) Fetch(ctx context.Context, src types.FontSource, version, downloadURL string) (*types.Download, error) {
	if downloadURL == "" {
		return nil, fmt.Errorf("font %s: no download url resolved: %w", src.ID, types.ErrNotFound)
	}

	var lastErr error
	for attempt := 0; attempt <= d.opts.Retries; attempt++ {
		if attempt > 0 {
			backoff := d.opts.Backoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		dl, err := d.attempt(ctx, src, version, downloadURL)
		if err == nil {
			return dl, nil
		}
		lastErr = err

		if !types.Retryable(err) {
			return nil, err
		}
		if attempt < d.opts.Retries && d.OnRetry != nil {
			d.OnRetry(src.ID, attempt+1, err)
		}
	}
	return nil, fmt.Errorf("font %s: %d attempts exhausted: %w", src.ID, d.opts.Retries+1, lastErr)
}

// attempt 單次下載嘗試：抓取 → 寫入 .part → 驗證 → 改名
func (d *Downloader) attempt(ctx context.Context, src types.FontSource, version, downloadURL string) (*types.Download, error) {
	destDir := filepath.Join(d.opts.Dir, string(src.ID), sanitize(version))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("font %s: mkdir %s: %w", src.ID, destDir, err)
	}

	originalName := assetName(src, downloadURL)
	dest := filepath.Join(destDir, originalName)
	partPath := dest + ".part"

	attemptCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("font %s: build request: %w", src.ID, err)
	}
	req.Header.Set("User-Agent", "fontpack")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// 外層取消不算暫時性錯誤
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: font %s: download: %v", types.ErrTransient, src.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("font %s: status 404 for %s: %w", src.ID, downloadURL, types.ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: font %s: status %d", types.ErrTransient, src.ID, resp.StatusCode)
	default:
		return nil, fmt.Errorf("font %s: unexpected status %d", src.ID, resp.StatusCode)
	}

	out, err := os.Create(partPath)
	if err != nil {
		return nil, fmt.Errorf("font %s: create %s: %w", src.ID, partPath, err)
	}
	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		// 傳輸中斷的半成品不留在磁碟上
		os.Remove(partPath)
		if copyErr == nil {
			copyErr = closeErr
		}
		return nil, fmt.Errorf("%w: font %s: transfer: %v", types.ErrTransient, src.ID, copyErr)
	}

	// 驗證失敗會刪除 .part 檔並回報 ErrIntegrity
	if err := d.validator.Validate(partPath); err != nil {
		return nil, err
	}
	if err := os.Rename(partPath, dest); err != nil {
		os.Remove(partPath)
		return nil, fmt.Errorf("font %s: rename: %w", src.ID, err)
	}

	return &types.Download{
		FontID:       src.ID,
		Path:         dest,
		Version:      version,
		OriginalName: originalName,
		Size:         written,
	}, nil
}

// assetName 由下載網址推導原始檔名
func assetName(src types.FontSource, downloadURL string) string {
	if u, err := url.Parse(downloadURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return string(src.ID) + ".ttf"
}

// sanitize 讓版本字串可以安全作為目錄名稱
func sanitize(version string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, version)
}
