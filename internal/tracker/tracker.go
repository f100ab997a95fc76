// ============================================================================
// fontpack 進度追蹤器 - 字型管線狀態機
// ============================================================================
//
// Package: internal/tracker
// 文件: tracker.go
// 功能: 管理批次中每個字型的管線階段轉移
//
// 設計理念:
//   1. fonts map - 批次內所有字型的統一儲存，作為單一真實來源
//   2. 批次一開始就註冊全部字型，結果集因此永遠完整：
//      不論中途發生什麼，每個被要求處理的字型都有一筆終態或最後階段
//   3. 轉移規則寫死在狀態機裡，呼叫端無法製造出非法順序
//
// 階段轉移 (State Machine):
//   pending → checked → downloading → downloaded → validated → planned → completed
//                ↓
//             skipped（版本未變且啟用 skip_existing）
//   任一非終態 → failed（附帶失敗原因）
//
// 轉移規則:
//   - Advance 只接受正向的直接後繼階段
//   - Skip 只允許從 checked 出發
//   - Fail 允許從任何非終態出發
//   - 終態（completed / failed / skipped）不再轉移
//
// 併發安全:
//   - 使用 sync.RWMutex 保護所有資料結構
//   - OnUpdate 回呼在鎖外以值複本觸發，回呼內可安全回頭查詢
//
// ============================================================================

package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 字型未註冊於本批次
	ErrUnknownFont = errors.New("font not registered")
	// 字型 ID 重複註冊
	ErrDuplicateFont = errors.New("font already registered")
	// 不符合狀態機的轉移
	ErrIllegalTransition = errors.New("illegal stage transition")
	// 字型已落在終態
	ErrAlreadyTerminal = errors.New("font already in terminal stage")
)

// successor 每個階段唯一合法的下一步（skip 與 fail 另行處理）
var successor = map[types.Stage]types.Stage{
	types.StagePending:     types.StageChecked,
	types.StageChecked:     types.StageDownloading,
	types.StageDownloading: types.StageDownloaded,
	types.StageDownloaded:  types.StageValidated,
	types.StageValidated:   types.StagePlanned,
	types.StagePlanned:     types.StageCompleted,
}

// Tracker 批次進度追蹤器
type Tracker struct {
	mu    sync.RWMutex
	fonts map[types.FontID]*types.FontStatus

	// onUpdate 在每次階段轉移後以值複本觸發；可為 nil
	onUpdate func(types.FontStatus)
}

// New 建立追蹤器
//
// 併發安全：回傳的實例是執行緒安全的
func New() *Tracker {
	return &Tracker{
		fonts: make(map[types.FontID]*types.FontStatus),
	}
}

// SetUpdateCallback 設定階段轉移回呼，供回報層渲染進度
func (t *Tracker) SetUpdateCallback(fn func(types.FontStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdate = fn
}

// Register 將字型納入批次，初始階段為 pending
//
// 錯誤處理：
//   - ErrDuplicateFont: 字型 ID 已註冊
func (t *Tracker) Register(ids ...types.FontID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[types.FontID]bool, len(ids))
	for _, id := range ids {
		if _, exists := t.fonts[id]; exists || seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateFont, id)
		}
		seen[id] = true
	}
	now := time.Now().UnixMilli()
	for _, id := range ids {
		t.fonts[id] = &types.FontStatus{
			FontID:    id,
			Stage:     types.StagePending,
			UpdatedAt: now,
		}
	}
	return nil
}

// Advance 將字型推進到下一個階段
//
// 參數說明：
//   - id: 字型識別碼
//   - next: 目標階段，必須是目前階段的直接後繼
//   - version: 本輪解析到的上游版本；空字串保留原值
//
// 錯誤處理：
//   - ErrUnknownFont: 字型未註冊
//   - ErrAlreadyTerminal: 字型已在終態
//   - ErrIllegalTransition: next 不是合法後繼
//
// 併發安全：使用互斥鎖保護
func (t *Tracker) Advance(id types.FontID, next types.Stage, version string) error {
	t.mu.Lock()

	st, exists := t.fonts[id]
	if !exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownFont, id)
	}
	if st.Stage.IsTerminal() {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, st.Stage)
	}
	if successor[st.Stage] != next {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s: %s -> %s", ErrIllegalTransition, id, st.Stage, next)
	}

	st.Stage = next
	if version != "" {
		st.Version = version
	}
	st.UpdatedAt = time.Now().UnixMilli()

	stCopy := *st
	t.mu.Unlock()

	t.notify(stCopy)
	return nil
}

// Skip 將字型標記為已略過；只允許從 checked 出發
func (t *Tracker) Skip(id types.FontID) error {
	t.mu.Lock()

	st, exists := t.fonts[id]
	if !exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownFont, id)
	}
	if st.Stage != types.StageChecked {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s: %s -> %s", ErrIllegalTransition, id, st.Stage, types.StageSkipped)
	}

	st.Stage = types.StageSkipped
	st.UpdatedAt = time.Now().UnixMilli()

	stCopy := *st
	t.mu.Unlock()

	t.notify(stCopy)
	return nil
}

// Fail 將字型標記為失敗並記錄原因；允許從任何非終態出發
func (t *Tracker) Fail(id types.FontID, cause error) error {
	t.mu.Lock()

	st, exists := t.fonts[id]
	if !exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownFont, id)
	}
	if st.Stage.IsTerminal() {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, st.Stage)
	}

	st.Stage = types.StageFailed
	if cause != nil {
		st.Error = cause.Error()
	}
	st.UpdatedAt = time.Now().UnixMilli()

	stCopy := *st
	t.mu.Unlock()

	t.notify(stCopy)
	return nil
}

// Get 取得字型目前狀態的值複本；未註冊回傳 false
//
// 併發安全：使用讀鎖保護
func (t *Tracker) Get(id types.FontID) (types.FontStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, exists := t.fonts[id]
	if !exists {
		return types.FontStatus{}, false
	}
	return *st, true
}

// Snapshot 深拷貝全部字型狀態，用於組裝批次結果
//
// 併發安全：使用讀鎖保護
func (t *Tracker) Snapshot() map[types.FontID]*types.FontStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[types.FontID]*types.FontStatus, len(t.fonts))
	for id, st := range t.fonts {
		stCopy := *st
		out[id] = &stCopy
	}
	return out
}

// Stats 各階段的字型數量統計
//
// 併發安全：使用讀鎖保護
func (t *Tracker) Stats() map[types.Stage]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[types.Stage]int)
	for _, st := range t.fonts {
		out[st.Stage]++
	}
	return out
}

// Len 批次內的字型總數
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.fonts)
}

// AllTerminal 回報是否所有字型都已落在終態
func (t *Tracker) AllTerminal() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, st := range t.fonts {
		if !st.Stage.IsTerminal() {
			return false
		}
	}
	return true
}

func (t *Tracker) notify(st types.FontStatus) {
	t.mu.RLock()
	fn := t.onUpdate
	t.mu.RUnlock()

	if fn != nil {
		fn(st)
	}
}
