package download

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"seehuhn.de/go/sfnt"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// 可接受的 SFNT 容器魔數（檔案開頭 4 位元組）
var sfntMagics = [][]byte{
	{0x00, 0x01, 0x00, 0x00}, // TrueType outlines
	[]byte("OTTO"),           // CFF outlines
	[]byte("true"),           // legacy Apple TrueType
	[]byte("typ1"),           // legacy Type 1
	[]byte("ttcf"),           // TrueType collection
}

// Validator 完整性驗證器
//
// 拒絕空檔案、小於下限的檔案與魔數不符的檔案；DeepParse 開啟時
// 進一步完整解析字型並要求可用的 cmap。任何驗證失敗都會立即
// 刪除檔案，磁碟上不留下半成品
type Validator struct {
	MinSize   int64
	DeepParse bool
}

// NewValidator 建立驗證器
func NewValidator(minSize int64, deepParse bool) *Validator {
	return &Validator{MinSize: minSize, DeepParse: deepParse}
}

// Validate 檢查下載完成的字型檔
func (v *Validator) Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return v.fail(path, fmt.Sprintf("stat: %v", err))
	}
	if info.Size() == 0 {
		return v.fail(path, "empty file")
	}
	if info.Size() < v.MinSize {
		return v.fail(path, fmt.Sprintf("size %d below minimum %d", info.Size(), v.MinSize))
	}

	magic, err := readMagic(path)
	if err != nil {
		return v.fail(path, fmt.Sprintf("read header: %v", err))
	}
	if !isSFNTMagic(magic) {
		return v.fail(path, fmt.Sprintf("unrecognized font container signature % X", magic))
	}

	if v.DeepParse && !bytes.Equal(magic, []byte("ttcf")) {
		// collection 檔交由子集化工具處理索引，僅做淺層檢查
		font, err := sfnt.ReadFile(path)
		if err != nil {
			return v.fail(path, fmt.Sprintf("parse: %v", err))
		}
		if font.CMapTable == nil {
			return v.fail(path, "font has no cmap table")
		}
		if _, err := font.CMapTable.GetBest(); err != nil {
			return v.fail(path, fmt.Sprintf("no usable cmap subtable: %v", err))
		}
	}
	return nil
}

// fail 刪除未通過驗證的檔案並回報完整性錯誤
func (v *Validator) fail(path, reason string) error {
	os.Remove(path)
	return fmt.Errorf("%w: %s: %s", types.ErrIntegrity, filepath.Base(path), reason)
}

func readMagic(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, err
	}
	return magic, nil
}

func isSFNTMagic(magic []byte) bool {
	for _, want := range sfntMagics {
		if bytes.Equal(magic, want) {
			return true
		}
	}
	return false
}
