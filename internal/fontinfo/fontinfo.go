package fontinfo

// ============================================================================
// 職責說明：
// 1. 解析已下載的字型檔，萃取字元庫（cmap 中有對應字形的所有字元）
// 2. 以檔案大小與字形數推導切塊估算參數；設定檔覆寫優先於推導值
// 3. 回報字形數、UnitsPerEm 與輪廓格式等檔案概況
// ============================================================================

import (
	"fmt"
	"os"

	"seehuhn.de/go/sfnt"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// 推導出的每字元均攤大小夾在此範圍內，避免極端字型扭曲切塊規劃
const (
	minAvgCharBytes = 32.0
	maxAvgCharBytes = 4096.0

	// 每個切塊的固定容器開銷估值
	defaultBaseBytes = 512.0
)

// Info 單一字型檔的解析結果
type Info struct {
	Path       string
	FileSize   int64
	NumGlyphs  int
	UnitsPerEm uint16
	Flavor     string // glyf、cff 或 unknown
	Repertoire *types.CharacterSet
	Metrics    types.FontMetrics // 推導值；覆寫合併見 MergeMetrics
}

// Inspect 解析字型檔並回傳完整資訊
//
// 解析失敗歸類為完整性錯誤：檔案已通過下載驗證仍無法解析，
// 代表內容損壞而非暫時性問題
func Inspect(path string) (*Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("fontinfo: stat %s: %w", path, err)
	}

	font, err := sfnt.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: fontinfo: parse %s: %v", types.ErrIntegrity, path, err)
	}

	info := &Info{
		Path:       path,
		FileSize:   st.Size(),
		NumGlyphs:  font.NumGlyphs(),
		UnitsPerEm: font.UnitsPerEm,
		Repertoire: types.NewCharacterSet(),
	}
	switch {
	case font.IsCFF():
		info.Flavor = "cff"
	case font.IsGlyf():
		info.Flavor = "glyf"
	default:
		info.Flavor = "unknown"
	}

	sub, err := font.CMapTable.GetBest()
	if err != nil {
		return nil, fmt.Errorf("%w: fontinfo: %s has no usable cmap: %v", types.ErrIntegrity, path, err)
	}

	// 逐字元掃描 cmap 範圍；0 為 notdef，不計入字元庫
	low, high := sub.CodeRange()
	for r := low; r <= high; r++ {
		if sub.Lookup(r) != 0 {
			info.Repertoire.Add(r)
		}
	}

	info.Metrics = deriveMetrics(st.Size(), font.NumGlyphs())
	return info, nil
}

// MergeMetrics 合併推導值與設定檔覆寫；覆寫中的零值欄位維持推導值
func MergeMetrics(derived types.FontMetrics, override *types.FontMetrics) types.FontMetrics {
	if override == nil {
		return derived
	}
	m := derived
	if override.AvgCharBytes > 0 {
		m.AvgCharBytes = override.AvgCharBytes
	}
	if override.BaseBytes > 0 {
		m.BaseBytes = override.BaseBytes
	}
	return m
}

// deriveMetrics 以檔案大小均攤到每個字形來估算切塊參數
func deriveMetrics(fileSize int64, numGlyphs int) types.FontMetrics {
	avg := maxAvgCharBytes
	if numGlyphs > 0 {
		avg = float64(fileSize) / float64(numGlyphs)
	}
	if avg < minAvgCharBytes {
		avg = minAvgCharBytes
	}
	if avg > maxAvgCharBytes {
		avg = maxAvgCharBytes
	}
	return types.FontMetrics{
		AvgCharBytes: avg,
		BaseBytes:    defaultBaseBytes,
	}
}
