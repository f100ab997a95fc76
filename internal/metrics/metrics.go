// ============================================================================
// fontpack Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露管線運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 計數器 (Counter) - 累計值，只增不減：
//      - fontpack_fonts_processed_total{result}: 到達終態的字型數
//        * result 標籤: completed / failed / skipped
//      - fontpack_chunks_built_total: 產出的子集區塊總數
//      - fontpack_download_retries_total: 下載重試總次數
//
//   2. 性能指標 (Histogram) - 分佈統計：
//      - fontpack_download_seconds: 單一字型下載耗時
//      - fontpack_subset_seconds: 單一字型全部區塊子集化耗時
//      - fontpack_chunk_bytes: 區塊實際輸出大小分佈
//        * 桶分佈: 4KB 起跳、每級翻倍到 4MB
//
//   3. 狀態指標 (Gauge) - 瞬時值：
//      - fontpack_fonts_inflight: 當前處理中的字型數
//      - fontpack_last_run_timestamp: 最近一次批次完成時間（Unix 秒）
//
// 使用場景:
//
//   監控告警:
//   - fonts_processed_total{result="failed"} 增長率 → 上游或工具鏈異常
//   - download_retries_total 突增 → 鏡像站不穩定
//   - time() - last_run_timestamp 過大 → watch 模式停擺
//
//   容量規劃:
//   - chunk_bytes 分佈右移 → 需要調整區塊大小上限
//   - subset_seconds 增長 → 子集化工具併發數不足
//
// Prometheus 查詢示例:
//
//   # 每小時失敗字型數
//   increase(fontpack_fonts_processed_total{result="failed"}[1h])
//
//   # 95 分位下載耗時
//   histogram_quantile(0.95, fontpack_download_seconds_bucket)
//
//   # 批次是否停擺
//   time() - fontpack_last_run_timestamp
//
// HTTP 端點:
//   通過 /metrics 端點暴露，由 Prometheus 定期抓取
//   格式: OpenMetrics / Prometheus 文本格式
//
// 註冊方式:
//   所有指標掛在 Collector 自有的 Registry 上，重複建構 Collector
//   不會撞到全域預設註冊表
//
// ============================================================================
// Metrics 監控模組
// 職責：收集並暴露 Prometheus 指標
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 字型終態標籤值
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// Collector Prometheus 指標收集器
type Collector struct {
	registry *prometheus.Registry

	// 計數器
	fontsProcessed  *prometheus.CounterVec
	chunksBuilt     prometheus.Counter
	downloadRetries prometheus.Counter

	// 效能指標
	downloadSeconds prometheus.Histogram
	subsetSeconds   prometheus.Histogram
	chunkBytes      prometheus.Histogram

	// 狀態指標
	fontsInflight    prometheus.Gauge
	lastRunTimestamp prometheus.Gauge
}

// NewCollector 創建新的指標收集器
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		fontsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fontpack_fonts_processed_total",
			Help: "Total number of fonts that reached a terminal stage",
		}, []string{"result"}),
		chunksBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fontpack_chunks_built_total",
			Help: "Total number of subset chunks produced",
		}),
		downloadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fontpack_download_retries_total",
			Help: "Total number of download retry attempts",
		}),
		downloadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fontpack_download_seconds",
			Help:    "Font binary download duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		subsetSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fontpack_subset_seconds",
			Help:    "Per-font subsetting duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		chunkBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fontpack_chunk_bytes",
			Help:    "Actual subset chunk size in bytes",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 11),
		}),
		fontsInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fontpack_fonts_inflight",
			Help: "Current number of fonts being processed",
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fontpack_last_run_timestamp",
			Help: "Unix timestamp of the last finished batch run",
		}),
	}

	// 註冊所有指標
	c.registry.MustRegister(c.fontsProcessed)
	c.registry.MustRegister(c.chunksBuilt)
	c.registry.MustRegister(c.downloadRetries)
	c.registry.MustRegister(c.downloadSeconds)
	c.registry.MustRegister(c.subsetSeconds)
	c.registry.MustRegister(c.chunkBytes)
	c.registry.MustRegister(c.fontsInflight)
	c.registry.MustRegister(c.lastRunTimestamp)

	return c
}

// Registry 返回自有的註冊表，供 HTTP handler 與測試使用
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordFontResult 記錄字型終態
func (c *Collector) RecordFontResult(result string) {
	c.fontsProcessed.WithLabelValues(result).Inc()
}

// RecordChunks 記錄產出的區塊數
func (c *Collector) RecordChunks(n int) {
	c.chunksBuilt.Add(float64(n))
}

// RecordDownloadRetry 記錄一次下載重試
func (c *Collector) RecordDownloadRetry() {
	c.downloadRetries.Inc()
}

// ObserveDownload 記錄下載耗時
func (c *Collector) ObserveDownload(seconds float64) {
	c.downloadSeconds.Observe(seconds)
}

// ObserveSubset 記錄子集化耗時
func (c *Collector) ObserveSubset(seconds float64) {
	c.subsetSeconds.Observe(seconds)
}

// ObserveChunkSize 記錄區塊實際大小
func (c *Collector) ObserveChunkSize(bytes int64) {
	c.chunkBytes.Observe(float64(bytes))
}

// IncInflight 字型進入處理
func (c *Collector) IncInflight() {
	c.fontsInflight.Inc()
}

// DecInflight 字型離開處理
func (c *Collector) DecInflight() {
	c.fontsInflight.Dec()
}

// SetLastRun 設置最近一次批次完成時間
func (c *Collector) SetLastRun(t time.Time) {
	c.lastRunTimestamp.Set(float64(t.Unix()))
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器
//
// 參數：
//   - port: HTTP 伺服器端口
//
// 返回值：
//   - error: 啟動失敗的錯誤
//
// 阻塞直到伺服器結束；watch 模式在獨立 goroutine 呼叫
func (c *Collector) StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
