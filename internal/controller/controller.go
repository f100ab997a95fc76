// ============================================================================
// fontpack 控制器 - 管線核心協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 管線核心控制器，協調所有模組，驅動每個字型走完建置流程
//
// 架構設計:
//   這是整個系統的"大腦"，負責協調以下組件：
//   - Checker: 上游版本解析與快取比對
//   - Downloader: 字型二進位檔抓取與完整性驗證
//   - Editor: 下載後修補腳本
//   - Planner: 字元集切塊規劃
//   - Runner: 外部子集化工具執行與 manifest 輸出
//   - Tracker: 每字型階段狀態機（進度回報的唯一來源）
//   - VersionCache: 已建置版本的持久化紀錄
//   - Journal: 僅追加的批次事件日誌
//
// 核心流程:
//   1. 檢查階段 - 循序解析所有字型的上游版本（對上游 API 客氣），
//      版本未變且啟用 skip_existing 的字型直接標記 skipped
//   2. 建置階段 - 需要重建的字型以固定批次放行：每批啟動
//      maxFonts 個 goroutine，以 WaitGroup 屏障等待整批完成後
//      才放行下一批；單一字型內的區塊子集化另有自己的並發上限
//
// 每字型階段鏈:
//   下載 → 驗證 → 修補 → 規劃（含字元集萃取）→ 子集化 → manifest
//   → 更新版本快取 → completed
//   任一階段失敗即標記 failed 並記下原因，批次照常進行；
//   版本快取只在子集化全數成功後更新，失敗的版本下次必定重建
//
// 併發安全:
//   - Tracker 與 VersionCache 各自持鎖，字型只碰自己的鍵
//   - Journal 內部持鎖，事件寫入失敗只降級為警告
//   - context 取消會讓進行中的下載與子集化盡快收手
//
// 職責說明：
//   1. 協調所有模組，串起檢查到子集化的完整流程
//   2. 以 stage 包裝器統一每個階段的計時、日誌與事件紀錄
//   3. 單一字型失敗不中斷批次，結果表涵蓋所有被要求的字型
//   4. 指標收集（處理數、耗時分佈、重試次數、在途數）
//
// ============================================================================

package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/ChuLiYu/fontpack/internal/checker"
	"github.com/ChuLiYu/fontpack/internal/chunker"
	"github.com/ChuLiYu/fontpack/internal/config"
	"github.com/ChuLiYu/fontpack/internal/download"
	"github.com/ChuLiYu/fontpack/internal/fontinfo"
	"github.com/ChuLiYu/fontpack/internal/metrics"
	"github.com/ChuLiYu/fontpack/internal/storage/journal"
	"github.com/ChuLiYu/fontpack/internal/subset"
	"github.com/ChuLiYu/fontpack/internal/tracker"
	"github.com/ChuLiYu/fontpack/internal/upstream"
	"github.com/ChuLiYu/fontpack/internal/versioncache"
	"github.com/ChuLiYu/fontpack/pkg/types"
)

var log = slog.Default()

// ============================================================================
// 資料結構定義
// ============================================================================

// Controller 管線協調器
type Controller struct {
	cfg        *config.Config
	cache      *versioncache.Cache
	checker    *checker.Checker
	downloader *download.Downloader
	validator  *download.Validator
	editor     *subset.Editor
	planner    *chunker.Planner
	runner     *subset.Runner
	journal    *journal.Journal // 可為 nil：事件日誌停用
	metrics    *metrics.Collector

	// Force 忽略版本比對結果，一律重建
	Force bool

	// OnStatus 每次階段轉移時呼叫，供回報層渲染進度；可為 nil
	OnStatus func(types.FontStatus)
}

// fontWork 通過檢查、等待建置的字型
type fontWork struct {
	src types.FontSource
	res *checker.CheckResult
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立控制器，依設定組裝所有管線組件
//
// cache 由呼叫端載入（載入失敗降級為空快取）；journal 可為 nil；
// collector 供指標收集，不可為 nil
func New(cfg *config.Config, cache *versioncache.Cache, jnl *journal.Journal, collector *metrics.Collector) (*Controller, error) {
	groups, err := cfg.Groups()
	if err != nil {
		return nil, err
	}

	// 1. 上游版本查詢與檢查器
	resolver := upstream.New(cfg.Upstream.APIBase, cfg.Upstream.RawBase, cfg.Upstream.Token, cfg.DownloadTimeout())
	chk := checker.New(resolver, cache)

	// 2. 下載器與完整性驗證
	validator := download.NewValidator(cfg.Download.MinFileSize, true)
	dl := download.New(download.Options{
		Dir:     cfg.Dirs.Downloads,
		Retries: cfg.Download.Retries,
		Timeout: cfg.DownloadTimeout(),
		Backoff: cfg.DownloadBackoff(),
	}, validator)
	dl.OnRetry = func(id types.FontID, attempt int, err error) {
		collector.RecordDownloadRetry()
		log.Warn("Download retry", "font", id, "attempt", attempt, "error", err)
	}

	// 3. 切塊規劃器
	planner := chunker.New(chunker.SizeConfig{
		TargetBytes: cfg.TargetBytes(),
		MinBytes:    cfg.MinBytes(),
		MaxBytes:    cfg.MaxBytes(),
	}, groups)

	// 4. 子集化工具與修補腳本
	runner := subset.NewRunner(subset.Options{
		Command:        cfg.Subsetter.Command,
		Args:           cfg.Subsetter.Args,
		Format:         cfg.Subsetter.Format,
		OutDir:         cfg.Dirs.Output,
		MaxConcurrent:  cfg.Concurrency.MaxChunks,
		MaxChunkBytes:  cfg.MaxBytes(),
		ValidateOutput: cfg.ValidateOutput,
	})
	editor := subset.NewEditor(cfg.Editor.Command)

	return &Controller{
		cfg:        cfg,
		cache:      cache,
		checker:    chk,
		downloader: dl,
		validator:  validator,
		editor:     editor,
		planner:    planner,
		runner:     runner,
		journal:    jnl,
		metrics:    collector,
	}, nil
}

// Run 執行一次完整批次
//
// 回傳的結果表涵蓋所有輸入字型，每個字型必有終態
// （completed / skipped / failed）；單一字型的失敗不會
// 中斷批次，也不會讓 Run 回傳錯誤，error 只保留給
// 批次層級的問題（例如重複的字型識別碼）
func (c *Controller) Run(ctx context.Context, sources []types.FontSource) (*types.BatchResult, error) {
	run := newRunID()
	started := time.Now()

	tr := tracker.New()
	tr.SetUpdateCallback(c.OnStatus)

	ids := make([]types.FontID, 0, len(sources))
	for _, src := range sources {
		ids = append(ids, src.ID)
	}
	if err := tr.Register(ids...); err != nil {
		return nil, fmt.Errorf("register fonts: %w", err)
	}

	log.Info("Batch started", "run", run, "fonts", len(sources))

	// 1. 檢查階段：循序解析上游版本並與快取比對
	results := c.checker.CheckAll(ctx, sources, checker.Options{
		Force: c.Force,
		TTL:   c.cfg.CacheTTL(),
	})

	var work []fontWork
	for _, src := range sources {
		res := results[src.ID]
		if res.Err != nil {
			c.journalEvent(run, src.ID, journal.EventFail, "", fmt.Sprintf("check: %v", res.Err))
			c.failFont(tr, src.ID, res.Err)
			continue
		}

		if err := tr.Advance(src.ID, types.StageChecked, res.Current); err != nil {
			log.Error("Illegal stage transition", "font", src.ID, "to", types.StageChecked, "error", err)
			c.failFont(tr, src.ID, err)
			continue
		}
		c.journalEvent(run, src.ID, journal.EventCheck, res.Current, checkDetail(res))

		if !res.NeedsUpdate && c.cfg.SkipExisting {
			if err := tr.Skip(src.ID); err != nil {
				log.Error("Failed to mark font skipped", "font", src.ID, "error", err)
				continue
			}
			c.journalEvent(run, src.ID, journal.EventSkip, res.Current, "version unchanged")
			c.metrics.RecordFontResult(metrics.ResultSkipped)
			log.Info("Font skipped", "font", src.ID, "version", res.Current)
			continue
		}
		work = append(work, fontWork{src: src, res: res})
	}

	// 2. 建置階段：固定批次放行，整批完成才放行下一批
	for lo := 0; lo < len(work); lo += c.cfg.Concurrency.MaxFonts {
		hi := min(lo+c.cfg.Concurrency.MaxFonts, len(work))

		var wg sync.WaitGroup
		for _, w := range work[lo:hi] {
			wg.Add(1)
			go func(w fontWork) {
				defer wg.Done()
				c.processFont(ctx, run, tr, w.src, w.res)
			}(w)
		}
		wg.Wait()
	}

	finished := time.Now()
	c.metrics.SetLastRun(finished)

	result := &types.BatchResult{
		RunID:      run,
		StartedAt:  started.UnixMilli(),
		FinishedAt: finished.UnixMilli(),
		Fonts:      tr.Snapshot(),
	}
	log.Info("Batch finished",
		"run", run,
		"completed", result.Count(types.StageCompleted),
		"skipped", result.Count(types.StageSkipped),
		"failed", result.Count(types.StageFailed),
		"duration", finished.Sub(started))
	return result, nil
}

// processFont 驅動單一字型走完下載到子集化的階段鏈
func (c *Controller) processFont(ctx context.Context, run string, tr *tracker.Tracker, src types.FontSource, res *checker.CheckResult) {
	version := res.Current

	c.metrics.IncInflight()
	defer c.metrics.DecInflight()

	advance := func(next types.Stage) bool {
		if err := tr.Advance(src.ID, next, version); err != nil {
			log.Error("Illegal stage transition", "font", src.ID, "to", next, "error", err)
			c.failFont(tr, src.ID, err)
			return false
		}
		return true
	}

	// 下載
	if !advance(types.StageDownloading) {
		return
	}
	var dl *types.Download
	elapsed, err := c.stage(run, src.ID, version, journal.EventDownload, func() (string, error) {
		var ferr error
		dl, ferr = c.downloader.Fetch(ctx, src, version, res.DownloadURL)
		if ferr != nil {
			return "", ferr
		}
		return fmt.Sprintf("%s (%d bytes)", dl.OriginalName, dl.Size), nil
	})
	if err != nil {
		c.failFont(tr, src.ID, err)
		return
	}
	c.metrics.ObserveDownload(elapsed.Seconds())
	if !advance(types.StageDownloaded) {
		return
	}

	// 驗證：下載流程已驗過暫存檔，落地後再確認一次最終路徑
	_, err = c.stage(run, src.ID, version, journal.EventValidate, func() (string, error) {
		if verr := c.validator.Validate(dl.Path); verr != nil {
			return "", verr
		}
		return fmt.Sprintf("%d bytes", dl.Size), nil
	})
	if err != nil {
		c.failFont(tr, src.ID, err)
		return
	}
	if !advance(types.StageValidated) {
		return
	}

	// 修補腳本（設定了才跑，留在 validated 階段）
	if len(src.Patches) > 0 {
		_, err = c.stage(run, src.ID, version, journal.EventPatch, func() (string, error) {
			if perr := c.editor.Apply(ctx, dl.Path, src.Patches); perr != nil {
				return "", perr
			}
			return fmt.Sprintf("%d scripts", len(src.Patches)), nil
		})
		if err != nil {
			c.failFont(tr, src.ID, err)
			return
		}
	}

	// 規劃：從二進位檔萃取字元集與估算參數後切塊
	var plan *types.ChunkPlan
	_, err = c.stage(run, src.ID, version, journal.EventPlan, func() (string, error) {
		info, ierr := fontinfo.Inspect(dl.Path)
		if ierr != nil {
			return "", ierr
		}
		m := fontinfo.MergeMetrics(info.Metrics, src.Metrics)

		var warnings []string
		plan, warnings, ierr = c.planner.Plan(src.ID, version, info.Repertoire, m)
		if ierr != nil {
			return "", ierr
		}
		for _, w := range warnings {
			log.Warn("Plan warning", "font", src.ID, "warning", w)
		}
		return fmt.Sprintf("%d chunks, %d chars", len(plan.Chunks), plan.TotalChars), nil
	})
	if err != nil {
		c.failFont(tr, src.ID, err)
		return
	}
	if !advance(types.StagePlanned) {
		return
	}

	// 子集化與 manifest：任一區塊失敗即整個字型失敗
	elapsed, err = c.stage(run, src.ID, version, journal.EventSubset, func() (string, error) {
		out, serr := c.runner.SubsetAll(ctx, dl, plan)
		if serr != nil {
			return "", serr
		}
		for _, w := range out.Warnings {
			log.Warn("Subset warning", "font", src.ID, "warning", w)
		}
		if failed := out.Failed(); len(failed) > 0 {
			return "", fmt.Errorf("%d of %d chunks failed: %w",
				len(failed), len(out.Results), out.Results[failed[0]].Err)
		}
		for _, r := range out.Results {
			c.metrics.ObserveChunkSize(r.ActualSize)
		}

		m := subset.BuildManifest(src, plan, out, run)
		if _, werr := subset.WriteManifest(out.Dir, m); werr != nil {
			return "", fmt.Errorf("write manifest: %w", werr)
		}
		return fmt.Sprintf("%d chunks -> %s", len(out.Results), out.Dir), nil
	})
	if err != nil {
		c.failFont(tr, src.ID, err)
		return
	}
	c.metrics.ObserveSubset(elapsed.Seconds())
	c.metrics.RecordChunks(len(plan.Chunks))

	// 子集化全數成功後才更新版本快取；持久化失敗只降級為警告，
	// 記憶體中的紀錄仍在，重啟後這個版本會被重建而不是被略過
	if cerr := c.cache.Set(src.ID, version); cerr != nil {
		log.Warn("Version cache persist failed", "font", src.ID, "error", cerr)
	}

	if !advance(types.StageCompleted) {
		return
	}
	c.journalEvent(run, src.ID, journal.EventComplete, version, fmt.Sprintf("%d chunks", len(plan.Chunks)))
	c.metrics.RecordFontResult(metrics.ResultCompleted)
	log.Info("Font completed", "font", src.ID, "version", version, "chunks", len(plan.Chunks))
}

// ============================================================================
// 輔助方法
// ============================================================================

// stage 以統一的計時、日誌與事件紀錄包裝單一階段
//
// 成功時記錄該階段的事件，失敗時記錄帶階段名稱的 FAIL 事件，
// 兩條路徑都輸出結構化日誌；回傳耗時供指標使用
func (c *Controller) stage(run string, id types.FontID, version string, ev journal.EventType, fn func() (string, error)) (time.Duration, error) {
	name := strings.ToLower(string(ev))
	start := time.Now()
	detail, err := fn()
	elapsed := time.Since(start)

	if err != nil {
		c.journalEvent(run, id, journal.EventFail, version, fmt.Sprintf("%s: %v", name, err))
		log.Error("Stage failed", "font", id, "stage", name, "duration", elapsed, "error", err)
		return elapsed, err
	}
	c.journalEvent(run, id, ev, version, detail)
	log.Debug("Stage done", "font", id, "stage", name, "duration", elapsed, "detail", detail)
	return elapsed, nil
}

// failFont 標記字型失敗並更新指標；事件紀錄由失敗當下的 stage 負責
func (c *Controller) failFont(tr *tracker.Tracker, id types.FontID, cause error) {
	if err := tr.Fail(id, cause); err != nil {
		log.Error("Failed to mark font failed", "font", id, "error", err)
	}
	c.metrics.RecordFontResult(metrics.ResultFailed)
	log.Error("Font failed", "font", id, "error", cause)
}

// journalEvent 寫入一筆事件；日誌只是輔助紀錄，失敗降級為警告
func (c *Controller) journalEvent(run string, font types.FontID, ev journal.EventType, version, detail string) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Append(run, font, ev, version, detail); err != nil {
		log.Warn("Journal append failed", "event", ev, "font", font, "error", err)
	}
}

// checkDetail 檢查結果的事件說明文字
func checkDetail(res *checker.CheckResult) string {
	switch {
	case res.Fresh:
		return "cache fresh"
	case !res.NeedsUpdate:
		return "up to date"
	case res.Cached == "":
		return fmt.Sprintf("new font at %s", res.Current)
	default:
		return fmt.Sprintf("update %s -> %s", res.Cached, res.Current)
	}
}

// newRunID 產生批次識別碼，UUID 失敗時退回時間戳
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return id.String()
}
