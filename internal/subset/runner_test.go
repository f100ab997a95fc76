package subset

// ============================================================================
// Subset Runner 測試檔案
// 職責：以替身腳本驗證參數樣板、並行子集化、失敗隔離與輸出驗證
// ============================================================================

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// writeStub 產生一個可執行的替身腳本；$1=input $2=output $3=unicodes
func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stubtool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func writeInputFont(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.ttf")
	require.NoError(t, os.WriteFile(path, goregular.TTF, 0644))
	return path
}

func stubOptions(t *testing.T, stub string) Options {
	t.Helper()
	return Options{
		Command:       stub,
		Args:          []string{"{input}", "{output}", "{unicodes}"},
		Format:        "woff2",
		OutDir:        t.TempDir(),
		MaxConcurrent: 2,
	}
}

func latinPlan() *types.ChunkPlan {
	return &types.ChunkPlan{
		FontID:  "iming",
		Version: "1.0",
		Chunks: []types.Chunk{
			{Index: 0, Ranges: []types.RuneRange{{Lo: 'A', Hi: 'Z'}}, CharCount: 26, EstimatedSize: 640},
			{Index: 1, Ranges: []types.RuneRange{{Lo: '0', Hi: '9'}, {Lo: 0x4E00, Hi: 0x4E00}}, CharCount: 11, EstimatedSize: 330},
		},
		TotalChars: 37,
	}
}

func download(fontPath string) *types.Download {
	return &types.Download{FontID: "iming", Path: fontPath, Version: "1.0"}
}

// ============================================================================
// 成功路徑
// ============================================================================

// TestSubsetAllSuccess 測試全部區塊成功時的輸出位置與結果
func TestSubsetAllSuccess(t *testing.T) {
	stub := writeStub(t, `cp "$1" "$2"`)
	input := writeInputFont(t)
	r := NewRunner(stubOptions(t, stub))

	out, err := r.SubsetAll(context.Background(), download(input), latinPlan())
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Len(t, out.Results, 2)
	assert.True(t, out.OK())
	assert.Empty(t, out.Failed())

	assert.Equal(t, filepath.Join(r.opts.OutDir, "iming", "1.0"), out.Dir)
	for i, res := range out.Results {
		assert.NoError(t, res.Err)
		assert.Equal(t, i, res.Index)
		assert.Equal(t, int64(len(goregular.TTF)), res.ActualSize)

		wantFile := filepath.Join(out.Dir, fmt.Sprintf("iming.%d.woff2", i))
		assert.Equal(t, wantFile, res.Path)
		_, statErr := os.Stat(res.Path)
		assert.NoError(t, statErr)
	}
}

// TestArgTemplateSubstitution 測試佔位符被替換成實際值
func TestArgTemplateSubstitution(t *testing.T) {
	// 替身把 unicodes 參數原樣寫進輸出檔
	stub := writeStub(t, `printf '%s' "$3" > "$2"`)
	input := writeInputFont(t)
	r := NewRunner(stubOptions(t, stub))

	plan := &types.ChunkPlan{
		FontID:  "iming",
		Version: "1.0",
		Chunks: []types.Chunk{
			{Index: 0, Ranges: []types.RuneRange{{Lo: 'A', Hi: 'Z'}, {Lo: 0x4E00, Hi: 0x4E00}}, CharCount: 27},
		},
		TotalChars: 27,
	}
	out, err := r.SubsetAll(context.Background(), download(input), plan)
	require.NoError(t, err)
	require.True(t, out.OK())

	got, err := os.ReadFile(out.Results[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "U+0041-005A,U+4E00", string(got))
}

// TestEmptyPlan 測試空計畫直接回傳空結果
func TestEmptyPlan(t *testing.T) {
	stub := writeStub(t, `cp "$1" "$2"`)
	r := NewRunner(stubOptions(t, stub))

	out, err := r.SubsetAll(context.Background(), download(writeInputFont(t)),
		&types.ChunkPlan{FontID: "iming", Version: "1.0"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.True(t, out.OK())
}

// ============================================================================
// 失敗隔離
// ============================================================================

// TestChunkFailureIsolated 測試單一區塊失敗不影響其他區塊
func TestChunkFailureIsolated(t *testing.T) {
	// CJK 區塊故意失敗，拉丁區塊照常輸出
	stub := writeStub(t, `case "$3" in *4E00*) echo "stub exploded" >&2; exit 3;; esac
cp "$1" "$2"`)
	input := writeInputFont(t)
	r := NewRunner(stubOptions(t, stub))

	out, err := r.SubsetAll(context.Background(), download(input), latinPlan())
	require.NoError(t, err)
	assert.False(t, out.OK())
	assert.Equal(t, []int{1}, out.Failed())

	assert.NoError(t, out.Results[0].Err)
	require.Error(t, out.Results[1].Err)
	assert.Contains(t, out.Results[1].Err.Error(), "chunk 1")
	assert.Contains(t, out.Results[1].Err.Error(), "stub exploded")

	// 失敗區塊不得殘留輸出檔
	_, statErr := os.Stat(filepath.Join(out.Dir, "iming.1.woff2"))
	assert.True(t, os.IsNotExist(statErr))
}

// TestEmptyOutputRejected 測試工具寫出空檔視為完整性錯誤並刪除
func TestEmptyOutputRejected(t *testing.T) {
	stub := writeStub(t, `: > "$2"`)
	r := NewRunner(stubOptions(t, stub))

	out, err := r.SubsetAll(context.Background(), download(writeInputFont(t)), latinPlan())
	require.NoError(t, err)
	assert.False(t, out.OK())
	for _, res := range out.Results {
		require.Error(t, res.Err)
		assert.ErrorIs(t, res.Err, types.ErrIntegrity)
	}
	entries, readErr := os.ReadDir(out.Dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

// TestCancelRemovesPartialOutput 測試取消時中止工具並清掉半成品
func TestCancelRemovesPartialOutput(t *testing.T) {
	stub := writeStub(t, `cp "$1" "$2"
sleep 5`)
	input := writeInputFont(t)
	r := NewRunner(stubOptions(t, stub))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := r.SubsetAll(ctx, download(input), latinPlan())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	for _, res := range out.Results {
		require.Error(t, res.Err)
		assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	}
	entries, readErr := os.ReadDir(out.Dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

// ============================================================================
// 輸出驗證與警告
// ============================================================================

// TestValidateOutputTTF 測試 ttf 輸出重新解析：真字型過、垃圾內容擋
func TestValidateOutputTTF(t *testing.T) {
	input := writeInputFont(t)

	t.Run("Real font passes", func(t *testing.T) {
		stub := writeStub(t, `cp "$1" "$2"`)
		opts := stubOptions(t, stub)
		opts.Format = "ttf"
		opts.ValidateOutput = true
		out, err := NewRunner(opts).SubsetAll(context.Background(), download(input), latinPlan())
		require.NoError(t, err)
		assert.True(t, out.OK())
	})

	t.Run("Garbage output rejected and deleted", func(t *testing.T) {
		stub := writeStub(t, `printf 'not a font at all' > "$2"`)
		opts := stubOptions(t, stub)
		opts.Format = "ttf"
		opts.ValidateOutput = true
		out, err := NewRunner(opts).SubsetAll(context.Background(), download(input), latinPlan())
		require.NoError(t, err)
		assert.False(t, out.OK())
		for _, res := range out.Results {
			assert.ErrorIs(t, res.Err, types.ErrIntegrity)
		}
		entries, readErr := os.ReadDir(out.Dir)
		require.NoError(t, readErr)
		assert.Empty(t, entries)
	})

	t.Run("Woff2 skips reparse", func(t *testing.T) {
		stub := writeStub(t, `printf 'compressed gibberish' > "$2"`)
		opts := stubOptions(t, stub)
		opts.ValidateOutput = true // Format 維持 woff2
		out, err := NewRunner(opts).SubsetAll(context.Background(), download(input), latinPlan())
		require.NoError(t, err)
		assert.True(t, out.OK())
	})
}

// TestOversizeWarning 測試實際大小超過兩倍上限時給警告但不拒收
func TestOversizeWarning(t *testing.T) {
	stub := writeStub(t, `cp "$1" "$2"`)
	input := writeInputFont(t)
	opts := stubOptions(t, stub)
	opts.MaxChunkBytes = 1024 // goregular.TTF 遠大於 2KB

	out, err := NewRunner(opts).SubsetAll(context.Background(), download(input), latinPlan())
	require.NoError(t, err)
	assert.True(t, out.OK(), "oversize must warn, never reject")
	require.Len(t, out.Warnings, 2)
	assert.Contains(t, out.Warnings[0], "chunk 0")
	assert.Contains(t, out.Warnings[0], "exceeds 2x max")
}

// TestMissingTool 測試工具不存在時區塊失敗但整體仍回傳結果
func TestMissingTool(t *testing.T) {
	opts := stubOptions(t, filepath.Join(t.TempDir(), "no-such-tool"))
	out, err := NewRunner(opts).SubsetAll(context.Background(), download(writeInputFont(t)), latinPlan())
	require.NoError(t, err)
	assert.False(t, out.OK())
	assert.Len(t, out.Failed(), 2)
}

// TestManyChunksBoundedConcurrency 測試多區塊在小並行上限下全部完成
func TestManyChunksBoundedConcurrency(t *testing.T) {
	stub := writeStub(t, `cp "$1" "$2"`)
	input := writeInputFont(t)
	opts := stubOptions(t, stub)
	opts.MaxConcurrent = 2

	plan := &types.ChunkPlan{FontID: "iming", Version: "1.0"}
	for i := 0; i < 8; i++ {
		lo := rune(0x4E00 + i*100)
		plan.Chunks = append(plan.Chunks, types.Chunk{
			Index:     i,
			Ranges:    []types.RuneRange{{Lo: lo, Hi: lo + 99}},
			CharCount: 100,
		})
		plan.TotalChars += 100
	}

	out, err := NewRunner(opts).SubsetAll(context.Background(), download(input), plan)
	require.NoError(t, err)
	assert.True(t, out.OK())
	assert.Len(t, out.Results, 8)
}
