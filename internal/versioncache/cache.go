package versioncache

// ============================================================================
// 職責說明：
// 1. 持久化 fontId → 最後成功建置版本的對應（單一 JSON 檔）
// 2. 使用原子性寫入（temp file + rename）防止損壞
// 3. 載入時驗證 schema 版本相容性
// 4. 快取損壞或不可讀時降級為「全部過期」，絕不降級為「全部最新」
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedCache      = errors.New("version cache file is corrupted")
	ErrIncompatibleVersion = errors.New("version cache schema version is incompatible")
)

const schemaVersion = 1

// ============================================================================
// 資料結構定義
// ============================================================================

// cacheFile 磁碟上的快取格式
type cacheFile struct {
	Records   map[types.FontID]*types.VersionRecord `json:"records"`
	SchemaVer int                                   `json:"schema_ver"` // 資料結構版本號，用於向後相容性
	SavedAt   int64                                 `json:"saved_at"`   // 最後寫入時間（Unix 毫秒）
}

// Cache 版本快取，「這個版本是否已經建置過」的唯一真相來源
type Cache struct {
	path    string // 快取檔案路徑
	mu      sync.Mutex
	records map[types.FontID]*types.VersionRecord
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立版本快取實例，尚未載入磁碟內容
func New(path string) *Cache {
	return &Cache{
		path:    path,
		records: make(map[types.FontID]*types.VersionRecord),
	}
}

// Load 載入快取檔案
//
// 行為：
//   - 檔案不存在：回傳 nil（首次執行，空快取）
//   - 檔案損壞或版本不相容：快取保持為空並回傳包裝過的 ErrCacheIO，
//     呼叫端記錄警告後照常執行，所有字型視為過期
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", types.ErrCacheIO, c.path, err)
	}

	var data cacheFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("%w: %w: %v", types.ErrCacheIO, ErrCorruptedCache, err)
	}
	if data.SchemaVer != schemaVersion {
		return fmt.Errorf("%w: %w: got %d, want %d",
			types.ErrCacheIO, ErrIncompatibleVersion, data.SchemaVer, schemaVersion)
	}
	if data.Records == nil {
		data.Records = make(map[types.FontID]*types.VersionRecord)
	}

	c.records = data.Records
	return nil
}

// Get 取得字型的版本紀錄
func (c *Cache) Get(id types.FontID) (types.VersionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return types.VersionRecord{}, false
	}
	return *rec, true
}

// Set 記錄字型的新版本並立即持久化
//
// 持久化失敗時記憶體中的紀錄仍然保留（下次寫入會再嘗試），
// 回傳包裝過的 ErrCacheIO 讓呼叫端決定如何回報
func (c *Cache) Set(id types.FontID, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[id] = &types.VersionRecord{
		FontID:    id,
		Version:   version,
		CheckedAt: time.Now().UnixMilli(),
	}
	return c.persistLocked()
}

// IsStale 判斷紀錄是否過期：now - checkedAt > ttl，或紀錄不存在
func (c *Cache) IsStale(id types.FontID, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return true
	}
	age := time.Since(time.UnixMilli(rec.CheckedAt))
	return age > ttl
}

// Remove 刪除單一字型的紀錄並持久化
func (c *Cache) Remove(id types.FontID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.records, id)
	return c.persistLocked()
}

// Clear 清空整個快取並持久化，唯一允許整批刪除紀錄的入口
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = make(map[types.FontID]*types.VersionRecord)
	return c.persistLocked()
}

// Len 紀錄筆數
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Records 回傳依 FontID 排序的所有紀錄副本，供狀態顯示使用
func (c *Cache) Records() []types.VersionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.VersionRecord, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FontID < out[j].FontID })
	return out
}

// Path 快取檔案路徑（用於狀態顯示與除錯）
func (c *Cache) Path() string {
	return c.path
}

// persistLocked 原子性寫入快取，呼叫端必須已持有鎖
//
// 寫入流程：
// 1. 序列化為 JSON（帶縮排，方便人工閱讀與除錯）
// 2. 寫入臨時檔案（.tmp）
// 3. 使用 os.Rename 原子性替換原始檔案
func (c *Cache) persistLocked() error {
	data := cacheFile{
		Records:   c.records,
		SchemaVer: schemaVersion,
		SavedAt:   time.Now().UnixMilli(),
	}
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", types.ErrCacheIO, err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %v", types.ErrCacheIO, dir, err)
		}
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0644); err != nil {
		return fmt.Errorf("%w: write temp cache: %v", types.ErrCacheIO, err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		// 重新命名失敗，清理臨時檔案
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename cache: %v", types.ErrCacheIO, err)
	}
	return nil
}
