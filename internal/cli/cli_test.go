package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/fontpack/internal/checker"
	"github.com/ChuLiYu/fontpack/internal/config"
	"github.com/ChuLiYu/fontpack/pkg/types"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "fontpack", cmd.Use, "Root command should be 'fontpack'")
	assert.Equal(t, "1.0.0", cmd.Version, "Version should be 1.0.0")

	// 檢查子命令
	commands := cmd.Commands()
	commandNames := make(map[string]bool)
	for _, c := range commands {
		commandNames[c.Use] = true
	}

	assert.True(t, commandNames["run"], "Should have 'run' command")
	assert.True(t, commandNames["check"], "Should have 'check' command")
	assert.True(t, commandNames["status"], "Should have 'status' command")
	assert.True(t, commandNames["history"], "Should have 'history' command")
	assert.True(t, commandNames["clear-cache"], "Should have 'clear-cache' command")
	assert.True(t, commandNames["watch"], "Should have 'watch' command")

	// 檢查持久化標誌
	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand, "Should have -c shorthand")
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue, "Default config path should be configs/default.yaml")

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag, "Should have --verbose flag")
	assert.Equal(t, "v", verboseFlag.Shorthand, "Should have -v shorthand")
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.Equal(t, "run", cmd.Use, "Command should be 'run'")
	assert.NotNil(t, cmd.RunE, "RunE function should be set")

	forceFlag := cmd.Flags().Lookup("force")
	require.NotNil(t, forceFlag, "Should have --force flag")
	assert.Equal(t, "false", forceFlag.DefValue, "Force should default to false")

	fontsFlag := cmd.Flags().Lookup("fonts")
	assert.NotNil(t, fontsFlag, "Should have --fonts flag")
}

func TestBuildCheckCommand(t *testing.T) {
	cmd := buildCheckCommand()

	assert.Equal(t, "check", cmd.Use, "Command should be 'check'")
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
	assert.NotNil(t, cmd.Flags().Lookup("fonts"), "Should have --fonts flag")
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()

	assert.Equal(t, "status", cmd.Use, "Command should be 'status'")
	assert.Contains(t, cmd.Short, "cache", "Short description should mention the cache")
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
}

func TestBuildHistoryCommand(t *testing.T) {
	cmd := buildHistoryCommand()

	assert.Equal(t, "history", cmd.Use, "Command should be 'history'")

	linesFlag := cmd.Flags().Lookup("lines")
	require.NotNil(t, linesFlag, "Should have --lines flag")
	assert.Equal(t, "n", linesFlag.Shorthand, "Should have -n shorthand")
	assert.Equal(t, "20", linesFlag.DefValue, "Default line count should be 20")
}

func TestBuildClearCacheCommand(t *testing.T) {
	cmd := buildClearCacheCommand()

	assert.Equal(t, "clear-cache", cmd.Use, "Command should be 'clear-cache'")
	assert.NotNil(t, cmd.Flags().Lookup("font"), "Should have --font flag")
}

func TestBuildWatchCommand(t *testing.T) {
	cmd := buildWatchCommand()

	assert.Equal(t, "watch", cmd.Use, "Command should be 'watch'")

	intervalFlag := cmd.Flags().Lookup("interval")
	require.NotNil(t, intervalFlag, "Should have --interval flag")
	assert.Equal(t, "6h0m0s", intervalFlag.DefValue, "Default interval should be 6h")
}

// writeTestConfig 產生指向臨時目錄的有效設定檔並切換 configFile
func writeTestConfig(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := fmt.Sprintf(`cache:
  path: %s/versions.json
dirs:
  downloads: %s/downloads
  output: %s/output
journal:
  path: %s/journal
fonts:
  - id: iming
    name: I.Ming
    owner: ichitenfont
    repo: I.Ming
    source: release
    asset_pattern: "*.ttf"
  - id: lxgw-wenkai
    name: LXGW WenKai
    owner: lxgw
    repo: LxgwWenKai
    source: commit
    path: fonts/LXGWWenKai-Regular.ttf
`, tmpDir, tmpDir, tmpDir, tmpDir)

	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err, "Failed to write test config file")

	old := configFile
	configFile = configPath
	t.Cleanup(func() { configFile = old })

	return tmpDir
}

func TestLoadConfigAndCache(t *testing.T) {
	writeTestConfig(t)

	cfg, cache, err := loadConfigAndCache()
	require.NoError(t, err, "Valid config should load")
	require.NotNil(t, cfg)
	require.NotNil(t, cache)

	assert.Len(t, cfg.Fonts, 2, "Config should list both fonts")
	assert.Equal(t, 0, cache.Len(), "Fresh cache should be empty")
}

func TestLoadConfigAndCache_MissingFile(t *testing.T) {
	old := configFile
	configFile = "/nonexistent/config.yaml"
	t.Cleanup(func() { configFile = old })

	_, _, err := loadConfigAndCache()
	assert.Error(t, err, "Missing config file should fail")
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfigAndCache_CorruptCache(t *testing.T) {
	tmpDir := writeTestConfig(t)

	// 損壞的快取檔只降級為空快取，不中斷指令
	err := os.WriteFile(filepath.Join(tmpDir, "versions.json"), []byte("{broken"), 0644)
	require.NoError(t, err)

	cfg, cache, err := loadConfigAndCache()
	require.NoError(t, err, "Corrupt cache must not fail the command")
	require.NotNil(t, cfg)
	assert.Equal(t, 0, cache.Len(), "Corrupt cache should behave as empty")
}

func TestSelectSources(t *testing.T) {
	writeTestConfig(t)
	cfg, _, err := loadConfigAndCache()
	require.NoError(t, err)

	// 無過濾：全部字型
	all, err := selectSources(cfg, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// 過濾單一識別碼
	one, err := selectSources(cfg, []string{"lxgw-wenkai"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, types.FontID("lxgw-wenkai"), one[0].ID)

	// 未知識別碼直接報錯
	_, err = selectSources(cfg, []string{"nope"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not in the config file")
}

func TestShowStatus(t *testing.T) {
	writeTestConfig(t)

	err := showStatus()
	assert.NoError(t, err, "showStatus should not return an error")
}

func TestShowHistoryEmpty(t *testing.T) {
	writeTestConfig(t)

	err := showHistory(10)
	assert.NoError(t, err, "Empty journal should render without error")
}

func TestClearCacheEmpty(t *testing.T) {
	writeTestConfig(t)

	err := clearCache("")
	assert.NoError(t, err, "Clearing an empty cache should succeed")
}

func TestClearCacheSingleFont(t *testing.T) {
	writeTestConfig(t)

	_, cache, err := loadConfigAndCache()
	require.NoError(t, err)
	require.NoError(t, cache.Set("iming", "8.00"))
	require.NoError(t, cache.Set("lxgw-wenkai", "v1.520"))

	err = clearCache("iming")
	require.NoError(t, err)

	// 重新載入驗證持久化結果
	_, reloaded, err := loadConfigAndCache()
	require.NoError(t, err)
	_, ok := reloaded.Get("iming")
	assert.False(t, ok, "Cleared font should be gone")
	_, ok = reloaded.Get("lxgw-wenkai")
	assert.True(t, ok, "Other fonts should survive a single-font clear")
}

func TestRunCheckUnknownFont(t *testing.T) {
	writeTestConfig(t)

	err := runCheck([]string{"nope"})
	assert.Error(t, err, "Unknown font id should fail before any network call")
	assert.Contains(t, err.Error(), "not in the config file")
}

func TestCheckVerdict(t *testing.T) {
	cases := []struct {
		name string
		res  *checker.CheckResult
		want string
	}{
		{"error", &checker.CheckResult{Err: fmt.Errorf("boom")}, "boom"},
		{"fresh", &checker.CheckResult{Fresh: true}, "fresh"},
		{"up to date", &checker.CheckResult{Cached: "8.00", Current: "8.00"}, "up to date"},
		{"never built", &checker.CheckResult{Current: "8.00", NeedsUpdate: true}, "never built"},
		{"update available", &checker.CheckResult{Cached: "7.00", Current: "8.00", NeedsUpdate: true}, "update available"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Contains(t, checkVerdict(tc.res), tc.want)
		})
	}
}

func TestRenderSummary(t *testing.T) {
	result := &types.BatchResult{
		RunID:      "run-test",
		StartedAt:  1000,
		FinishedAt: 2500,
		Fonts: map[types.FontID]*types.FontStatus{
			"a": {FontID: "a", Stage: types.StageCompleted, Version: "1.0"},
			"b": {FontID: "b", Stage: types.StageSkipped, Version: "1.0"},
			"c": {FontID: "c", Stage: types.StageFailed, Error: "boom"},
		},
	}

	assert.NotPanics(t, func() { renderSummary(result) })
}

func TestRenderProgress(t *testing.T) {
	stages := []types.FontStatus{
		{FontID: "a", Stage: types.StageChecked, Version: "1.0"},
		{FontID: "a", Stage: types.StageDownloading, Version: "1.0"},
		{FontID: "a", Stage: types.StageCompleted, Version: "1.0"},
		{FontID: "b", Stage: types.StageSkipped, Version: "1.0"},
		{FontID: "c", Stage: types.StageFailed, Error: "boom"},
	}

	for _, st := range stages {
		assert.NotPanics(t, func() { renderProgress(st) })
	}
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "8.00", orDash("8.00"))
}

func TestLoadConfig_InvalidFont(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")

	// release 來源缺 asset_pattern
	content := `fonts:
  - id: broken
    owner: someone
    repo: something
    source: release
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	_, err := config.Load(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "asset_pattern", "Error should name the missing field")
}
