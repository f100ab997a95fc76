package subset

// ============================================================================
// 職責說明：
// 1. 下載完成後依序執行字型的修補腳本（GPOS 修正之類的前處理）
// 2. 腳本以設定的直譯器呼叫：<command> <script> <fontPath>
// 3. 任一腳本失敗即中止，該字型視為處理失敗
// ============================================================================

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
)

// Editor 修補腳本執行器
type Editor struct {
	Command string // 直譯器，例如 python3
}

// NewEditor 建立執行器
func NewEditor(command string) *Editor {
	return &Editor{Command: command}
}

// Apply 對單一字型檔依序套用修補腳本
func (e *Editor) Apply(ctx context.Context, fontPath string, scripts []string) error {
	for _, script := range scripts {
		cmd := exec.CommandContext(ctx, e.Command, script, fontPath)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("patch %s: %w: %s",
				filepath.Base(script), err, truncate(stderr.String(), 200))
		}
	}
	return nil
}
