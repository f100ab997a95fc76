// Package config 載入並驗證 fontpack 的 YAML 設定檔
//
// 設定檔涵蓋：版本快取位置與 TTL、輸出目錄、並發上限、下載重試與逾時
// （依 environment 選擇預設值）、區塊尺寸預算、優先群組、子集化工具與
// 修補腳本的指令樣板、metrics 與 journal，以及字型來源清單
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// 依 environment 套用的下載預設值：開發環境偏短，正式環境偏長
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devTimeoutMs  = 10_000
	devRetries    = 2
	devBackoffMs  = 500
	prodTimeoutMs = 60_000
	prodRetries   = 4
	prodBackoffMs = 2_000
)

// Config 完整系統設定，透過 YAML 標籤對應設定檔欄位
type Config struct {
	Environment string `yaml:"environment"` // development 或 production

	Cache struct {
		Path     string `yaml:"path"`
		TTLHours int    `yaml:"ttl_hours"` // 紀錄新鮮度；0 表示每次都重新查詢上游
	} `yaml:"cache"`

	Dirs struct {
		Downloads string `yaml:"downloads"` // 原始二進位檔落地目錄
		Output    string `yaml:"output"`    // 子集化輸出與 manifest 目錄
	} `yaml:"dirs"`

	Concurrency struct {
		MaxFonts  int `yaml:"max_fonts"`  // 同時處理的字型數（固定批次大小）
		MaxChunks int `yaml:"max_chunks"` // 單一字型內並行子集化的區塊數
	} `yaml:"concurrency"`

	Download struct {
		Retries     int   `yaml:"retries"`       // 0 = 依 environment 預設
		TimeoutMs   int   `yaml:"timeout_ms"`    // 單次網路呼叫逾時；0 = 依 environment 預設
		BackoffMs   int   `yaml:"backoff_ms"`    // 重試間隔基準；0 = 依 environment 預設
		MinFileSize int64 `yaml:"min_file_size"` // 完整性檢查的最小位元組數
	} `yaml:"download"`

	Chunks struct {
		TargetKB float64 `yaml:"target_kb"`
		MinKB    float64 `yaml:"min_kb"`
		MaxKB    float64 `yaml:"max_kb"`
	} `yaml:"chunks"`

	PriorityGroups []PriorityGroup `yaml:"priority_groups"`

	SkipExisting   bool `yaml:"skip_existing"`   // 版本未變時略過重建
	ValidateOutput bool `yaml:"validate_output"` // 重新解析子集化輸出

	Subsetter struct {
		Command string   `yaml:"command"` // 外部子集化工具，例如 pyftsubset
		Args    []string `yaml:"args"`    // 參數樣板，支援 {input} {output} {unicodes} 佔位符
		Format  string   `yaml:"format"`  // 輸出副檔名（不含點），例如 woff2
	} `yaml:"subsetter"`

	Editor struct {
		Command string `yaml:"command"` // 修補腳本直譯器，例如 python3
	} `yaml:"editor"`

	Upstream struct {
		APIBase string `yaml:"api_base"` // 預設 https://api.github.com
		RawBase string `yaml:"raw_base"` // 預設 https://raw.githubusercontent.com
		Token   string `yaml:"token"`    // 選用；支援 ${ENV_VAR} 展開
	} `yaml:"upstream"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Journal struct {
		Path      string `yaml:"path"`
		MaxSizeMB int    `yaml:"max_size_mb"` // 超過即輪替
	} `yaml:"journal"`

	Fonts []Font `yaml:"fonts"`
}

// PriorityGroup 設定檔中的優先群組，範圍以 U+ 表示法字串列出
type PriorityGroup struct {
	Name   string   `yaml:"name"`
	Ranges []string `yaml:"ranges"`
}

// Font 單一字型來源設定
type Font struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Owner        string   `yaml:"owner"`
	Repo         string   `yaml:"repo"`
	Source       string   `yaml:"source"` // release 或 commit
	AssetPattern string   `yaml:"asset_pattern"`
	Path         string   `yaml:"path"`
	License      string   `yaml:"license"`
	Homepage     string   `yaml:"homepage"`
	Patches      []string `yaml:"patches"`

	// 尺寸估算覆寫；0 表示由下載的二進位檔推導
	AvgCharKB float64 `yaml:"avg_char_kb"`
	BaseKB    float64 `yaml:"base_kb"`
}

// Load 讀取並解析設定檔，套用預設值後驗證
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 回傳內建預設設定（不含字型清單）
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "data/versions.json"
	}
	if c.Cache.TTLHours < 0 {
		c.Cache.TTLHours = 0
	}
	if c.Dirs.Downloads == "" {
		c.Dirs.Downloads = "data/downloads"
	}
	if c.Dirs.Output == "" {
		c.Dirs.Output = "data/output"
	}
	if c.Concurrency.MaxFonts <= 0 {
		c.Concurrency.MaxFonts = 4
	}
	if c.Concurrency.MaxChunks <= 0 {
		c.Concurrency.MaxChunks = 4
	}

	// 依 environment 套用下載預設
	timeoutMs, retries, backoffMs := devTimeoutMs, devRetries, devBackoffMs
	if c.Environment == EnvProduction {
		timeoutMs, retries, backoffMs = prodTimeoutMs, prodRetries, prodBackoffMs
	}
	if c.Download.TimeoutMs <= 0 {
		c.Download.TimeoutMs = timeoutMs
	}
	if c.Download.Retries <= 0 {
		c.Download.Retries = retries
	}
	if c.Download.BackoffMs <= 0 {
		c.Download.BackoffMs = backoffMs
	}
	if c.Download.MinFileSize <= 0 {
		c.Download.MinFileSize = 1024
	}

	if c.Chunks.TargetKB <= 0 {
		c.Chunks.TargetKB = 64
	}
	if c.Chunks.MinKB <= 0 {
		c.Chunks.MinKB = 32
	}
	if c.Chunks.MaxKB <= 0 {
		c.Chunks.MaxKB = 128
	}

	if c.Subsetter.Command == "" {
		c.Subsetter.Command = "pyftsubset"
		c.Subsetter.Args = []string{
			"{input}",
			"--unicodes={unicodes}",
			"--flavor=woff2",
			"--output-file={output}",
		}
		c.Subsetter.Format = "woff2"
	}
	if c.Subsetter.Format == "" {
		c.Subsetter.Format = "woff2"
	}
	if c.Editor.Command == "" {
		c.Editor.Command = "python3"
	}

	if c.Upstream.APIBase == "" {
		c.Upstream.APIBase = "https://api.github.com"
	}
	if c.Upstream.RawBase == "" {
		c.Upstream.RawBase = "https://raw.githubusercontent.com"
	}
	c.Upstream.Token = os.ExpandEnv(c.Upstream.Token)

	if c.Metrics.Port <= 0 {
		c.Metrics.Port = 9090
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/journal"
	}
	if c.Journal.MaxSizeMB <= 0 {
		c.Journal.MaxSizeMB = 16
	}
}

// Validate 檢查設定的一致性，錯誤訊息帶出欄位路徑
func (c *Config) Validate() error {
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return fmt.Errorf("environment: must be %q or %q, got %q",
			EnvDevelopment, EnvProduction, c.Environment)
	}
	if c.Chunks.MinKB > c.Chunks.TargetKB {
		return fmt.Errorf("chunks: min_kb (%.1f) must not exceed target_kb (%.1f)",
			c.Chunks.MinKB, c.Chunks.TargetKB)
	}
	if c.Chunks.TargetKB > c.Chunks.MaxKB {
		return fmt.Errorf("chunks: target_kb (%.1f) must not exceed max_kb (%.1f)",
			c.Chunks.TargetKB, c.Chunks.MaxKB)
	}

	if _, err := c.Groups(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for i, f := range c.Fonts {
		if f.ID == "" {
			return fmt.Errorf("fonts[%d]: id is required", i)
		}
		if seen[f.ID] {
			return fmt.Errorf("fonts[%d]: duplicate id %q", i, f.ID)
		}
		seen[f.ID] = true
		if f.Owner == "" || f.Repo == "" {
			return fmt.Errorf("fonts[%d] (%s): owner and repo are required", i, f.ID)
		}
		switch types.SourceType(f.Source) {
		case types.SourceRelease:
			if f.AssetPattern == "" {
				return fmt.Errorf("fonts[%d] (%s): asset_pattern is required for release sources", i, f.ID)
			}
		case types.SourceCommit:
			if f.Path == "" {
				return fmt.Errorf("fonts[%d] (%s): path is required for commit sources", i, f.ID)
			}
		default:
			return fmt.Errorf("fonts[%d] (%s): source must be %q or %q, got %q",
				i, f.ID, types.SourceRelease, types.SourceCommit, f.Source)
		}
	}
	return nil
}

// Groups 解析優先群組的 U+ 範圍字串為領域模型
func (c *Config) Groups() ([]types.PriorityGroup, error) {
	out := make([]types.PriorityGroup, 0, len(c.PriorityGroups))
	for i, g := range c.PriorityGroups {
		if g.Name == "" {
			return nil, fmt.Errorf("priority_groups[%d]: name is required", i)
		}
		pg := types.PriorityGroup{Name: g.Name}
		for j, raw := range g.Ranges {
			r, err := types.ParseRuneRange(raw)
			if err != nil {
				return nil, fmt.Errorf("priority_groups[%d] (%s) ranges[%d]: %w", i, g.Name, j, err)
			}
			pg.Ranges = append(pg.Ranges, r)
		}
		out = append(out, pg)
	}
	return out, nil
}

// FontSources 將字型設定轉換為唯讀的領域描述
func (c *Config) FontSources() []types.FontSource {
	out := make([]types.FontSource, 0, len(c.Fonts))
	for _, f := range c.Fonts {
		src := types.FontSource{
			ID:           types.FontID(f.ID),
			Name:         f.Name,
			Owner:        f.Owner,
			Repo:         f.Repo,
			Source:       types.SourceType(f.Source),
			AssetPattern: f.AssetPattern,
			Path:         f.Path,
			License:      f.License,
			Homepage:     f.Homepage,
			Patches:      f.Patches,
		}
		if f.AvgCharKB > 0 || f.BaseKB > 0 {
			src.Metrics = &types.FontMetrics{
				AvgCharBytes: f.AvgCharKB * 1024,
				BaseBytes:    f.BaseKB * 1024,
			}
		}
		out = append(out, src)
	}
	return out
}

// CacheTTL 快取紀錄的新鮮度時限
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// DownloadTimeout 單次網路呼叫逾時
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutMs) * time.Millisecond
}

// DownloadBackoff 重試間隔基準
func (c *Config) DownloadBackoff() time.Duration {
	return time.Duration(c.Download.BackoffMs) * time.Millisecond
}

// TargetBytes 區塊目標大小（位元組）
func (c *Config) TargetBytes() int64 { return int64(c.Chunks.TargetKB * 1024) }

// MinBytes 區塊下限（位元組）
func (c *Config) MinBytes() int64 { return int64(c.Chunks.MinKB * 1024) }

// MaxBytes 區塊軟上限（位元組）
func (c *Config) MaxBytes() int64 { return int64(c.Chunks.MaxKB * 1024) }
