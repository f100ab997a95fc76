package subset

// ============================================================================
// 職責說明：
// 1. 逐區塊呼叫外部子集化工具（預設 pyftsubset），參數由佔位符樣板組出
// 2. 區塊之間以緩衝 channel 信號量限制並行數；單一區塊失敗不影響其他區塊
// 3. 失敗或取消時移除半成品輸出檔
// 4. 選配輸出驗證：ttf/otf 重新解析，woff/woff2 僅檢查非空
// ============================================================================

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"seehuhn.de/go/sfnt"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// 參數樣板中可用的佔位符
const (
	placeholderInput    = "{input}"
	placeholderOutput   = "{output}"
	placeholderUnicodes = "{unicodes}"
)

// Options 子集化工具設定
type Options struct {
	Command        string   // 外部工具，例如 pyftsubset
	Args           []string // 參數樣板，逐一替換佔位符
	Format         string   // 輸出副檔名（不含點）
	OutDir         string   // 輸出根目錄
	MaxConcurrent  int      // 同時執行的區塊數上限
	MaxChunkBytes  int64    // 軟上限；實際大小超過兩倍時給警告
	ValidateOutput bool     // 子集化後重新解析輸出
}

// ChunkResult 單一區塊的子集化結果
type ChunkResult struct {
	Index      int
	Path       string
	ActualSize int64
	Err        error
}

// Output 一個字型的完整子集化結果
type Output struct {
	Dir      string        // 本版本的輸出目錄
	Results  []ChunkResult // 與計畫中的區塊一一對應，依索引排列
	Warnings []string
}

// Failed 回傳子集化失敗的區塊索引
func (o *Output) Failed() []int {
	var out []int
	for _, r := range o.Results {
		if r.Err != nil {
			out = append(out, r.Index)
		}
	}
	return out
}

// OK 回報是否全部區塊都成功
func (o *Output) OK() bool {
	return len(o.Failed()) == 0
}

// Runner 外部子集化工具執行器
type Runner struct {
	opts Options
}

// NewRunner 建立執行器
func NewRunner(opts Options) *Runner {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Runner{opts: opts}
}

// SubsetAll 依切塊計畫產出全部區塊
//
// 回傳錯誤僅代表整體無法開工（例如輸出目錄建不出來）；
// 個別區塊的失敗記錄在 Results 的 Err 欄位
func (r *Runner) SubsetAll(ctx context.Context, dl *types.Download, plan *types.ChunkPlan) (*Output, error) {
	destDir := filepath.Join(r.opts.OutDir, string(dl.FontID), sanitize(dl.Version))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("subset: mkdir %s: %w", destDir, err)
	}

	out := &Output{
		Dir:     destDir,
		Results: make([]ChunkResult, len(plan.Chunks)),
	}
	if len(plan.Chunks) == 0 {
		return out, nil
	}

	sem := make(chan struct{}, r.opts.MaxConcurrent)
	var wg sync.WaitGroup
	for i, chunk := range plan.Chunks {
		wg.Add(1)
		go func(i int, chunk types.Chunk) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			path, size, err := r.subsetOne(ctx, dl.Path, destDir, string(dl.FontID), chunk)
			out.Results[i] = ChunkResult{Index: chunk.Index, Path: path, ActualSize: size, Err: err}
		}(i, chunk)
	}
	wg.Wait()

	// 軟上限：實際大小超過兩倍 max 僅警告，不拒收
	if r.opts.MaxChunkBytes > 0 {
		limit := 2 * r.opts.MaxChunkBytes
		for _, res := range out.Results {
			if res.Err == nil && res.ActualSize > limit {
				out.Warnings = append(out.Warnings, fmt.Sprintf(
					"chunk %d: actual size %d exceeds 2x max (%d)", res.Index, res.ActualSize, limit))
			}
		}
	}
	return out, nil
}

// subsetOne 執行單一區塊：組參數 → 跑工具 → 檢查輸出
func (r *Runner) subsetOne(ctx context.Context, inputPath, destDir, slug string, chunk types.Chunk) (string, int64, error) {
	outPath := filepath.Join(destDir, fmt.Sprintf("%s.%d.%s", slug, chunk.Index, r.opts.Format))
	unicodes := types.FormatRanges(chunk.Ranges)

	args := buildArgs(r.opts.Args, inputPath, outPath, unicodes)
	cmd := exec.CommandContext(ctx, r.opts.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// 半成品不留在磁碟上
		os.Remove(outPath)
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, fmt.Errorf("chunk %d: %s: %w: %s",
			chunk.Index, r.opts.Command, err, truncate(stderr.String(), 200))
	}

	st, err := os.Stat(outPath)
	if err != nil {
		return "", 0, fmt.Errorf("chunk %d: tool reported success but wrote no output: %w", chunk.Index, err)
	}
	if st.Size() == 0 {
		os.Remove(outPath)
		return "", 0, fmt.Errorf("%w: chunk %d: empty output", types.ErrIntegrity, chunk.Index)
	}

	if r.opts.ValidateOutput {
		if err := validateOutput(outPath, r.opts.Format); err != nil {
			os.Remove(outPath)
			return "", 0, err
		}
	}
	return outPath, st.Size(), nil
}

// validateOutput 重新解析子集化輸出
// woff/woff2 為壓縮容器，sfnt 解析不適用，維持大小檢查即可
func validateOutput(path, format string) error {
	switch strings.ToLower(format) {
	case "woff", "woff2":
		return nil
	}
	if _, err := sfnt.ReadFile(path); err != nil {
		return fmt.Errorf("%w: subset output %s unparsable: %v", types.ErrIntegrity, filepath.Base(path), err)
	}
	return nil
}

// buildArgs 將樣板中的佔位符替換為實際路徑與範圍
func buildArgs(tmpl []string, input, output, unicodes string) []string {
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		a = strings.ReplaceAll(a, placeholderInput, input)
		a = strings.ReplaceAll(a, placeholderOutput, output)
		a = strings.ReplaceAll(a, placeholderUnicodes, unicodes)
		out[i] = a
	}
	return out
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

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
