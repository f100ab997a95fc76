package types

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// RuneRange 連續碼位區間，端點皆含
type RuneRange struct {
	Lo rune `json:"lo"`
	Hi rune `json:"hi"`
}

// Contains 回報碼位是否落在區間內
func (r RuneRange) Contains(cp rune) bool {
	return cp >= r.Lo && cp <= r.Hi
}

// Count 區間涵蓋的碼位數
func (r RuneRange) Count() int {
	return int(r.Hi-r.Lo) + 1
}

// String 以 CSS unicode-range 表示法輸出，例如 U+0041 或 U+4E00-9FFF
func (r RuneRange) String() string {
	if r.Lo == r.Hi {
		return fmt.Sprintf("U+%04X", r.Lo)
	}
	return fmt.Sprintf("U+%04X-%04X", r.Lo, r.Hi)
}

// MarshalJSON 讓範圍在 manifest 中以 U+ 表示法序列化
func (r RuneRange) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(r.String())), nil
}

// UnmarshalJSON 解析 U+ 表示法
func (r *RuneRange) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return err
	}
	parsed, err := ParseRuneRange(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRuneRange 解析 U+0041、U+0041-005A 或 U+0041-U+005A 形式的範圍字串
func ParseRuneRange(s string) (RuneRange, error) {
	raw := strings.TrimSpace(s)
	body := strings.TrimPrefix(raw, "U+")
	body = strings.TrimPrefix(body, "u+")
	if body == raw {
		return RuneRange{}, fmt.Errorf("unicode range %q: missing U+ prefix", s)
	}
	lo, hi, found := strings.Cut(body, "-")
	if !found {
		hi = lo
	}
	hi = strings.TrimPrefix(strings.TrimPrefix(hi, "U+"), "u+")
	loCP, err := strconv.ParseUint(lo, 16, 32)
	if err != nil {
		return RuneRange{}, fmt.Errorf("unicode range %q: %w", s, err)
	}
	hiCP, err := strconv.ParseUint(hi, 16, 32)
	if err != nil {
		return RuneRange{}, fmt.Errorf("unicode range %q: %w", s, err)
	}
	if hiCP < loCP {
		return RuneRange{}, fmt.Errorf("unicode range %q: end before start", s)
	}
	return RuneRange{Lo: rune(loCP), Hi: rune(hiCP)}, nil
}

// FormatRanges 以逗號串接多個範圍，供子集化工具與回報層使用
func FormatRanges(ranges []RuneRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// RangesFromRunes 掃描排序後的碼位並合併相鄰連續段
// 輸入必須已遞增排序且不重複
func RangesFromRunes(runes []rune) []RuneRange {
	if len(runes) == 0 {
		return nil
	}
	var out []RuneRange
	cur := RuneRange{Lo: runes[0], Hi: runes[0]}
	for _, cp := range runes[1:] {
		if cp == cur.Hi+1 {
			cur.Hi = cp
			continue
		}
		out = append(out, cur)
		cur = RuneRange{Lo: cp, Hi: cp}
	}
	return append(out, cur)
}

// CharacterSet 去重後的碼位集合
// 插入順序與正確性無關，打包順序由優先群組決定
type CharacterSet struct {
	members map[rune]struct{}
}

// NewCharacterSet 建立空集合
func NewCharacterSet() *CharacterSet {
	return &CharacterSet{members: make(map[rune]struct{})}
}

// Add 加入單一碼位
func (cs *CharacterSet) Add(cp rune) {
	cs.members[cp] = struct{}{}
}

// AddRange 加入整段區間
func (cs *CharacterSet) AddRange(r RuneRange) {
	for cp := r.Lo; cp <= r.Hi; cp++ {
		cs.members[cp] = struct{}{}
	}
}

// AddRunes 加入多個碼位
func (cs *CharacterSet) AddRunes(runes []rune) {
	for _, cp := range runes {
		cs.members[cp] = struct{}{}
	}
}

// Contains 回報碼位是否已在集合中
func (cs *CharacterSet) Contains(cp rune) bool {
	_, ok := cs.members[cp]
	return ok
}

// Len 集合大小
func (cs *CharacterSet) Len() int {
	return len(cs.members)
}

// Runes 回傳遞增排序的全部碼位
func (cs *CharacterSet) Runes() []rune {
	out := make([]rune, 0, len(cs.members))
	for cp := range cs.members {
		out = append(out, cp)
	}
	slices.Sort(out)
	return out
}
