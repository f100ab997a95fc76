// Package types 定義了 fontpack 系統中使用的核心領域模型
package types

import "slices"

// FontID 字型唯一識別碼
type FontID string

// SourceType 上游來源類型
type SourceType string

// 定義上游來源類型常數
const (
	SourceRelease SourceType = "release" // 發佈來源：追蹤 GitHub Release 的最新標籤
	SourceCommit  SourceType = "commit"  // 提交來源：追蹤指定路徑的最新 commit SHA
)

// Stage 管線階段
type Stage string

// 定義每個字型在管線中的階段常數
const (
	StagePending     Stage = "pending"     // 待處理：字型已納入批次但尚未檢查
	StageChecked     Stage = "checked"     // 已檢查：上游版本已解析並與快取比對
	StageSkipped     Stage = "skipped"     // 已略過：版本未變且啟用 skip-existing
	StageDownloading Stage = "downloading" // 下載中：正在抓取字型二進位檔
	StageDownloaded  Stage = "downloaded"  // 已下載：二進位檔已落地，尚未驗證
	StageValidated   Stage = "validated"   // 已驗證：通過完整性檢查
	StagePlanned     Stage = "planned"     // 已規劃：區塊計畫已產生
	StageCompleted   Stage = "completed"   // 已完成：子集化輸出與快取更新皆成功
	StageFailed      Stage = "failed"      // 已失敗：任一階段發生不可恢復錯誤
)

// IsTerminal 回報該階段是否為終態（不再轉移）
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageSkipped
}

// FontSource 字型來源描述，由設定檔載入後唯讀
type FontSource struct {
	// 識別與來源位置
	ID     FontID     `json:"id"`     // 字型唯一識別碼（目錄與快取鍵）
	Name   string     `json:"name"`   // 顯示名稱
	Owner  string     `json:"owner"`  // GitHub 擁有者
	Repo   string     `json:"repo"`   // GitHub 儲存庫名稱
	Source SourceType `json:"source"` // 來源類型（release 或 commit）

	// 資產定位
	AssetPattern string `json:"asset_pattern,omitempty"` // release 資產檔名的 glob 樣式
	Path         string `json:"path,omitempty"`          // commit 來源在儲存庫內的檔案路徑

	// 授權與文件資訊
	License  string `json:"license,omitempty"`
	Homepage string `json:"homepage,omitempty"`

	// 處理選項
	Patches []string     `json:"patches,omitempty"` // 下載後套用的修補腳本
	Metrics *FontMetrics `json:"metrics,omitempty"` // 尺寸估算參數覆寫；nil 表示由二進位檔推導
}

// PriorityGroup 具名的優先碼位群組（例如 latin、numbers）
// 群組在設定檔中的先後順序決定打包優先序
type PriorityGroup struct {
	Name   string      `json:"name"`
	Ranges []RuneRange `json:"ranges"`
}

// Contains 回報碼位是否屬於此群組
func (g PriorityGroup) Contains(cp rune) bool {
	for _, r := range g.Ranges {
		if r.Contains(cp) {
			return true
		}
	}
	return false
}

// VersionRecord 版本紀錄，VersionCache 的唯一持久化單元
type VersionRecord struct {
	FontID    FontID `json:"font_id"`    // 所屬字型
	Version   string `json:"version"`    // 最後一次成功建置的上游版本
	CheckedAt int64  `json:"checked_at"` // 最後一次成功檢查時間（Unix 毫秒）
}

// Download 下載成功的結果；失敗以 error 表達，兩者必為其一
type Download struct {
	FontID       FontID `json:"font_id"`
	Path         string `json:"path"`          // 落地後的絕對路徑
	Version      string `json:"version"`       // 對應的上游版本
	OriginalName string `json:"original_name"` // 上游原始檔名
	Size         int64  `json:"size"`          // 位元組數
}

// FontMetrics 尺寸估算參數，僅用於規劃，實際輸出大小由子集化工具決定
type FontMetrics struct {
	AvgCharBytes float64 `json:"avg_char_bytes"` // 每字元平均貢獻（位元組）
	BaseBytes    float64 `json:"base_bytes"`     // 每區塊固定額外負擔（位元組）
}

// Chunk 單一輸出區塊，建立後不再變動
type Chunk struct {
	Index         int         `json:"index"`          // 密集 0 起始的優先序索引
	Ranges        []RuneRange `json:"ranges"`         // 合併後的 unicode 範圍
	CharCount     int         `json:"count"`          // 涵蓋的字元數
	EstimatedSize int64       `json:"estimated_size"` // 估算位元組數（僅供參考）
}

// Runes 由範圍展開區塊涵蓋的全部碼位（遞增排序）
func (c Chunk) Runes() []rune {
	out := make([]rune, 0, c.CharCount)
	for _, r := range c.Ranges {
		for cp := r.Lo; cp <= r.Hi; cp++ {
			out = append(out, cp)
		}
	}
	return out
}

// ChunkPlan 一次規劃的完整輸出：對輸入字元集的無損、不重疊分割
type ChunkPlan struct {
	FontID     FontID  `json:"font_id"`
	Version    string  `json:"version"`
	Chunks     []Chunk `json:"chunks"`
	TotalChars int     `json:"total_chars"` // 等於所有區塊 CharCount 之和
}

// FontStatus 單一字型的管線進度，由追蹤器發出供回報層使用
type FontStatus struct {
	FontID    FontID `json:"font_id"`
	Stage     Stage  `json:"stage"`
	Version   string `json:"version,omitempty"` // 本輪解析到的上游版本
	Error     string `json:"error,omitempty"`   // 失敗原因；僅 failed 階段有值
	UpdatedAt int64  `json:"updated_at"`        // 最後轉移時間（Unix 毫秒）
}

// BatchResult 批次結果，涵蓋所有被要求處理的字型，不遺漏任何一筆
type BatchResult struct {
	RunID      string                 `json:"run_id"`
	StartedAt  int64                  `json:"started_at"`  // Unix 毫秒
	FinishedAt int64                  `json:"finished_at"` // Unix 毫秒
	Fonts      map[FontID]*FontStatus `json:"fonts"`
}

// Failed 回傳所有終態為 failed 的字型識別碼（排序後）
func (b *BatchResult) Failed() []FontID {
	var ids []FontID
	for id, st := range b.Fonts {
		if st.Stage == StageFailed {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Count 回傳處於指定階段的字型數
func (b *BatchResult) Count(stage Stage) int {
	n := 0
	for _, st := range b.Fonts {
		if st.Stage == stage {
			n++
		}
	}
	return n
}

// OK 回報批次是否全數成功（無 failed 終態）
func (b *BatchResult) OK() bool {
	return len(b.Failed()) == 0
}
