package subset

// ============================================================================
// 職責說明：
// 1. 產出每字型每版本的 manifest.json，列出全部區塊的範圍與實際大小
// 2. 寫入沿用原子落檔：先寫 .tmp 再 rename，避免留下半成品
// ============================================================================

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// ManifestName 輸出目錄中的固定檔名
const ManifestName = "manifest.json"

// Manifest 單一字型版本的發佈描述
type Manifest struct {
	Font        types.FontID    `json:"font"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	License     string          `json:"license,omitempty"`
	Homepage    string          `json:"homepage,omitempty"`
	GeneratedAt int64           `json:"generatedAt"` // Unix 毫秒
	RunID       string          `json:"runId"`
	TotalChars  int             `json:"totalChars"`
	Chunks      []ManifestChunk `json:"chunks"`
}

// ManifestChunk 區塊描述，ranges 以 U+ 表示法序列化
type ManifestChunk struct {
	Index         int               `json:"index"`
	Ranges        []types.RuneRange `json:"ranges"`
	Count         int               `json:"count"`
	EstimatedSize int64             `json:"estimatedSize"`
	ActualSize    int64             `json:"actualSize"`
	File          string            `json:"file"`
}

// BuildManifest 由切塊計畫與子集化結果組出 manifest
//
// 呼叫端必須先確認 out.OK()：失敗區塊沒有輸出檔可列
func BuildManifest(src types.FontSource, plan *types.ChunkPlan, out *Output, runID string) *Manifest {
	m := &Manifest{
		Font:        src.ID,
		Name:        src.Name,
		Version:     plan.Version,
		License:     src.License,
		Homepage:    src.Homepage,
		GeneratedAt: time.Now().UnixMilli(),
		RunID:       runID,
		TotalChars:  plan.TotalChars,
		Chunks:      make([]ManifestChunk, 0, len(plan.Chunks)),
	}
	for i, chunk := range plan.Chunks {
		res := out.Results[i]
		m.Chunks = append(m.Chunks, ManifestChunk{
			Index:         chunk.Index,
			Ranges:        chunk.Ranges,
			Count:         chunk.CharCount,
			EstimatedSize: chunk.EstimatedSize,
			ActualSize:    res.ActualSize,
			File:          filepath.Base(res.Path),
		})
	}
	return m
}

// WriteManifest 原子寫入 manifest.json，回傳完整路徑
func WriteManifest(dir string, m *Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("manifest: marshal: %w", err)
	}

	path := filepath.Join(dir, ManifestName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("manifest: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("manifest: rename temp file: %w", err)
	}
	return path, nil
}

// ReadManifest 讀回輸出目錄中既有的 manifest
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	return &m, nil
}
