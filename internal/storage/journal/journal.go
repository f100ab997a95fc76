package journal

// ============================================================================
// 執行日誌核心實作
// 職責：
// 1. 以 JSONL 追加記錄管線事件（append-only）
// 2. 每筆事件帶 CRC32 校驗和；重放時容忍最後一筆被截斷的殘尾
// 3. 依檔案大小輪替，舊檔以時間戳記備份
// 4. history 指令由此讀取最近事件
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// 活躍日誌檔名；輪替備份為 journal.jsonl.<時間戳記>
const fileName = "journal.jsonl"

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 校驗和不符：檔案中段資料損壞
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")
	// 日誌已關閉
	ErrClosed = errors.New("journal: already closed")
)

// EventType 管線事件類型
type EventType string

const (
	EventCheck    EventType = "CHECK"    // 上游版本檢查完成
	EventSkip     EventType = "SKIP"     // 版本未變而略過
	EventDownload EventType = "DOWNLOAD" // 二進位檔下載完成
	EventValidate EventType = "VALIDATE" // 完整性驗證通過
	EventPatch    EventType = "PATCH"    // 修補腳本套用完成
	EventPlan     EventType = "PLAN"     // 切塊計畫產生
	EventSubset   EventType = "SUBSET"   // 子集化輸出完成
	EventComplete EventType = "COMPLETE" // 字型全程成功
	EventFail     EventType = "FAIL"     // 字型處理失敗
)

// Event 單筆日誌事件
type Event struct {
	Seq       uint64       `json:"seq"`               // 單調遞增序號（輪替後重新起算）
	Run       string       `json:"run"`               // 批次執行識別碼
	Font      types.FontID `json:"font"`              // 所屬字型
	Event     EventType    `json:"event"`             // 事件類型
	Version   string       `json:"version,omitempty"` // 相關上游版本
	Detail    string       `json:"detail,omitempty"`  // 附加說明（失敗原因、區塊數等）
	Timestamp int64        `json:"ts"`                // Unix 毫秒
	Checksum  uint32       `json:"crc"`               // CRC32-IEEE 校驗和
}

// checksumOf 以分隔符串接關鍵欄位後計算 CRC32
// 不含 Timestamp：時間戳記不參與資料完整性的身分
func checksumOf(e Event) uint32 {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(e.Seq, 10))
	b.WriteByte('|')
	b.WriteString(e.Run)
	b.WriteByte('|')
	b.WriteString(string(e.Font))
	b.WriteByte('|')
	b.WriteString(string(e.Event))
	b.WriteByte('|')
	b.WriteString(e.Version)
	b.WriteByte('|')
	b.WriteString(e.Detail)
	return crc32.ChecksumIEEE([]byte(b.String()))
}

// Verify 回報事件的校驗和是否正確
func (e Event) Verify() bool {
	return e.Checksum == checksumOf(e)
}

// Journal 執行日誌實例
type Journal struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	seq     uint64
	size    int64 // 活躍檔目前大小
	maxSize int64 // 超過即輪替；0 表示不輪替
	closed  bool
}

// Open 建立或接續一個執行日誌
//
// 檔案已存在時掃描出最後一筆完整事件的序號並接續；
// 殘尾（崩潰時寫到一半的最後一行）視為不存在
func Open(dir string, maxSize int64) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("journal: mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, fileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	j := &Journal{dir: dir, file: file, maxSize: maxSize}

	if st, err := file.Stat(); err == nil {
		j.size = st.Size()
	}
	if j.size > 0 {
		// 損壞時從 0 接續；寧可序號重疊也不拒絕開檔
		if err := Read(path, func(e Event) error {
			j.seq = e.Seq
			return nil
		}); err != nil && !errors.Is(err, ErrChecksumMismatch) {
			file.Close()
			return nil, err
		}
	}
	return j, nil
}

// Append 追加一筆事件並立即落檔
func (j *Journal) Append(run string, font types.FontID, ev EventType, version, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	if j.maxSize > 0 && j.size >= j.maxSize {
		if err := j.rotateLocked(); err != nil {
			return err
		}
	}

	j.seq++
	e := Event{
		Seq:       j.seq,
		Run:       run,
		Font:      font,
		Event:     ev,
		Version:   version,
		Detail:    detail,
		Timestamp: time.Now().UnixMilli(),
	}
	e.Checksum = checksumOf(e)

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal seq=%d: %w", e.Seq, err)
	}
	line = append(line, '\n')

	n, err := j.file.Write(line)
	j.size += int64(n)
	if err != nil {
		return fmt.Errorf("journal: append seq=%d: %w", e.Seq, err)
	}
	return nil
}

// Rotate 手動輪替活躍檔
func (j *Journal) Rotate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return j.rotateLocked()
}

// rotateLocked 呼叫端必須持有 j.mu
func (j *Journal) rotateLocked() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("journal: close before rotate: %w", err)
	}

	path := filepath.Join(j.dir, fileName)
	backupPath := path + "." + time.Now().Format("20060102_150405")
	if err := os.Rename(path, backupPath); err != nil {
		return fmt.Errorf("journal: rotate rename: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("journal: reopen after rotate: %w", err)
	}
	j.file = file
	j.seq = 0
	j.size = 0
	return nil
}

// Tail 回傳活躍檔中最後 n 筆事件（依序號遞增排列）
func (j *Journal) Tail(n int) ([]Event, error) {
	j.mu.Lock()
	path := filepath.Join(j.dir, fileName)
	j.mu.Unlock()

	var all []Event
	err := Read(path, func(e Event) error {
		all = append(all, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// LastSeq 目前的事件序號
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Path 活躍日誌檔路徑
func (j *Journal) Path() string {
	return filepath.Join(j.dir, fileName)
}

// Close 關閉日誌；關閉後的實例不可重用
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	j.closed = true
	return j.file.Close()
}

// Read 逐筆讀取日誌檔並呼叫 handler
//
// 容錯規則：
//   - 檔案不存在視為空日誌
//   - 最後一行無法解析視為崩潰殘尾，靜默停止
//   - 可解析但校驗和不符代表中段損壞，回傳 ErrChecksumMismatch
func Read(path string, handler func(Event) error) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for decoder.More() {
		var e Event
		if err := decoder.Decode(&e); err != nil {
			// 殘尾：停止但不報錯
			return nil
		}
		if !e.Verify() {
			return fmt.Errorf("%w: seq=%d", ErrChecksumMismatch, e.Seq)
		}
		if err := handler(e); err != nil {
			return err
		}
	}
	return nil
}
