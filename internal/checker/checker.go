package checker

// ============================================================================
// 職責說明：
// 1. 逐一解析每個字型來源目前的上游版本並與快取比對
// 2. needsUpdate：快取無紀錄、版本不符或強制重建時為 true
// 3. 單一字型查詢失敗只標記該字型（needsUpdate=false + 錯誤原因），
//    批次照常進行；絕不把失敗默默當成「已是最新」
// 4. TTL 內的新鮮紀錄直接視為最新，省下上游查詢
// ============================================================================

import (
	"context"
	"time"

	"github.com/ChuLiYu/fontpack/internal/upstream"
	"github.com/ChuLiYu/fontpack/internal/versioncache"
	"github.com/ChuLiYu/fontpack/pkg/types"
)

// Resolver 解析單一字型來源的上游版本，由 upstream.Client 實作
type Resolver interface {
	Resolve(ctx context.Context, src types.FontSource) (*upstream.Version, error)
}

// CheckResult 單一字型的檢查結果
type CheckResult struct {
	FontID      types.FontID
	Current     string // 上游目前版本；查詢失敗時為空
	Cached      string // 快取中的版本；無紀錄時為空
	NeedsUpdate bool
	Fresh       bool   // true 表示由 TTL 內的快取直接回答，未查詢上游
	PublishedAt string // 上游發佈時間
	DownloadURL string // 供下載階段使用
	Err         error  // 查詢失敗原因；成功時為 nil
}

// Options 檢查選項
type Options struct {
	Force bool          // 忽略版本比對結果，一律重建
	TTL   time.Duration // 快取新鮮度時限；0 表示每次都查詢上游
}

// Checker 版本檢查器
type Checker struct {
	resolver Resolver
	cache    *versioncache.Cache
}

// New 建立檢查器
func New(resolver Resolver, cache *versioncache.Cache) *Checker {
	return &Checker{resolver: resolver, cache: cache}
}

// Check 檢查單一字型
func (c *Checker) Check(ctx context.Context, src types.FontSource, opts Options) *CheckResult {
	res := &CheckResult{FontID: src.ID}
	if rec, ok := c.cache.Get(src.ID); ok {
		res.Cached = rec.Version
	}

	// TTL 捷徑：紀錄仍新鮮且未強制重建時，信任快取並跳過網路查詢
	if !opts.Force && opts.TTL > 0 && res.Cached != "" && !c.cache.IsStale(src.ID, opts.TTL) {
		res.Current = res.Cached
		res.Fresh = true
		return res
	}

	ver, err := c.resolver.Resolve(ctx, src)
	if err != nil {
		// 失敗必須顯式呈現，needsUpdate 維持 false 讓協調器回報
		res.Err = err
		return res
	}

	res.Current = ver.Version
	res.PublishedAt = ver.PublishedAt
	res.DownloadURL = ver.DownloadURL
	res.NeedsUpdate = opts.Force || res.Cached == "" || res.Cached != ver.Version
	return res
}

// CheckAll 檢查整批字型，回傳涵蓋所有輸入的完整結果表
//
// 單一字型的失敗不會中斷批次；context 取消後剩餘字型
// 直接標記取消原因，不再發出網路請求
func (c *Checker) CheckAll(ctx context.Context, sources []types.FontSource, opts Options) map[types.FontID]*CheckResult {
	out := make(map[types.FontID]*CheckResult, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			out[src.ID] = &CheckResult{FontID: src.ID, Err: err}
			continue
		}
		out[src.ID] = c.Check(ctx, src, opts)
	}
	return out
}
