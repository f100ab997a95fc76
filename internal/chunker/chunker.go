package chunker

// ============================================================================
// 職責說明：
// 1. 將字型的字元集依優先群組排序後串接為單一字元流
// 2. 以估算大小 base + avg*count 貪婪裝填區塊
// 3. 產出對輸入的無損、不重疊分割，索引密集且 chunk 0 優先序最高
// 4. 相同輸入必定產出位元相同的計畫（可重現）
// ============================================================================
//
// 裝填規則（依序判斷，皆在加入下一字元前）：
//   1. 下一字元開啟新的優先群組且目前區塊已達 min → 在群組邊界收塊
//      （讓相關字元留在同一區塊；未達 min 則與下一群組合併）
//   2. 加入後會超過 max → 立即收塊（max 僅對單字元區塊是軟上限）
//   3. 加入後會超過 target 且目前已達 min → 收塊
//   4. 其餘情況繼續裝填；最後一塊允許低於 min
// ============================================================================

import (
	"fmt"
	"math"
	"slices"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// SizeConfig 區塊尺寸預算（位元組）
type SizeConfig struct {
	TargetBytes int64 // 收塊目標
	MinBytes    int64 // 除最後一塊外的下限
	MaxBytes    int64 // 軟上限；單字元超過時僅告警
}

// Planner 區塊規劃器
type Planner struct {
	size   SizeConfig
	groups []types.PriorityGroup // 依設定順序；未命中的字元落入結尾的 remainder
}

// New 建立規劃器
func New(size SizeConfig, groups []types.PriorityGroup) *Planner {
	return &Planner{size: size, groups: groups}
}

// Plan 產出區塊計畫
//
// 行為：
//   - 空字元集 → 零區塊的有效計畫，不是錯誤
//   - 尺寸設定或估算參數不合法 → ErrPlanning
//   - 回傳的警告（例如超過 max 的單字元區塊）不影響計畫有效性
func (p *Planner) Plan(id types.FontID, version string, set *types.CharacterSet, m types.FontMetrics) (*types.ChunkPlan, []string, error) {
	if err := p.validate(m); err != nil {
		return nil, nil, err
	}

	plan := &types.ChunkPlan{
		FontID:  id,
		Version: version,
		Chunks:  make([]types.Chunk, 0),
	}
	if set == nil || set.Len() == 0 {
		return plan, nil, nil
	}

	stream, bucketStart := p.orderStream(set)

	target := float64(p.size.TargetBytes)
	min := float64(p.size.MinBytes)
	max := float64(p.size.MaxBytes)
	est := func(n int) float64 { return m.BaseBytes + m.AvgCharBytes*float64(n) }

	var warnings []string
	cur := make([]rune, 0, len(stream))

	closeChunk := func(final bool) {
		sorted := slices.Clone(cur)
		slices.Sort(sorted)
		size := est(len(cur))
		chunk := types.Chunk{
			Index:         len(plan.Chunks),
			Ranges:        types.RangesFromRunes(sorted),
			CharCount:     len(cur),
			EstimatedSize: int64(math.Round(size)),
		}
		if size > max {
			warnings = append(warnings, fmt.Sprintf(
				"chunk %d: single character %s estimated at %d bytes exceeds max %d",
				chunk.Index, types.FormatRanges(chunk.Ranges), chunk.EstimatedSize, p.size.MaxBytes))
		} else if size < min && !final {
			// 最後一塊允許低於 min；中途因 max 上限被迫收塊才告警
			warnings = append(warnings, fmt.Sprintf(
				"chunk %d: closed at %d bytes below min %d to respect max ceiling",
				chunk.Index, chunk.EstimatedSize, p.size.MinBytes))
		}
		plan.Chunks = append(plan.Chunks, chunk)
		plan.TotalChars += len(cur)
		cur = cur[:0]
	}

	for i, cp := range stream {
		if n := len(cur); n > 0 {
			switch {
			case bucketStart[i] && est(n) >= min:
				closeChunk(false)
			case est(n+1) > max:
				closeChunk(false)
			case est(n+1) > target && est(n) >= min:
				closeChunk(false)
			}
		}
		cur = append(cur, cp)
	}
	if len(cur) > 0 {
		closeChunk(true)
	}

	return plan, warnings, nil
}

func (p *Planner) validate(m types.FontMetrics) error {
	s := p.size
	switch {
	case s.TargetBytes <= 0 || s.MaxBytes <= 0 || s.MinBytes < 0:
		return fmt.Errorf("%w: size bounds must be positive (target=%d min=%d max=%d)",
			types.ErrPlanning, s.TargetBytes, s.MinBytes, s.MaxBytes)
	case s.MinBytes > s.TargetBytes:
		return fmt.Errorf("%w: min %d exceeds target %d", types.ErrPlanning, s.MinBytes, s.TargetBytes)
	case s.TargetBytes > s.MaxBytes:
		return fmt.Errorf("%w: target %d exceeds max %d", types.ErrPlanning, s.TargetBytes, s.MaxBytes)
	}
	if m.AvgCharBytes <= 0 {
		return fmt.Errorf("%w: avg char size must be positive, got %.3f", types.ErrPlanning, m.AvgCharBytes)
	}
	if m.BaseBytes < 0 {
		return fmt.Errorf("%w: base size must not be negative, got %.3f", types.ErrPlanning, m.BaseBytes)
	}
	return nil
}

// orderStream 依優先群組切桶後串接為字元流
//
// 每個字元歸入第一個命中的群組（先到先得），其餘落入結尾的
// remainder 桶；所有桶內部皆為碼位遞增。bucketStart[i] 為 true
// 表示 stream[i] 是某個桶的第一個字元
func (p *Planner) orderStream(set *types.CharacterSet) ([]rune, map[int]bool) {
	runes := set.Runes() // 已遞增排序
	stream := make([]rune, 0, len(runes))
	bucketStart := make(map[int]bool)
	taken := make(map[rune]bool, len(runes))

	appendBucket := func(member func(rune) bool) {
		start := len(stream)
		for _, cp := range runes {
			if !taken[cp] && member(cp) {
				taken[cp] = true
				stream = append(stream, cp)
			}
		}
		if len(stream) > start {
			bucketStart[start] = true
		}
	}

	for _, g := range p.groups {
		appendBucket(g.Contains)
	}
	appendBucket(func(rune) bool { return true }) // remainder

	return stream, bucketStart
}
