// Package upstream 實作版本查詢協作者：向 GitHub 解析字型的最新版本
// （release 標籤或 commit SHA）以及對應的下載網址
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

const defaultAPIBase = "https://api.github.com"
const defaultRawBase = "https://raw.githubusercontent.com"

// Client 查詢 GitHub 的薄 HTTPS 客戶端
type Client struct {
	APIBase string
	RawBase string
	Token   string // 選用的 API token，降低 rate limit 風險
	HTTP    *http.Client
}

// Version 單次查詢的結果
type Version struct {
	Version     string // release 標籤或 commit SHA
	PublishedAt string // 上游發佈時間，可能為空
	DownloadURL string // 解析後的資產下載網址
}

// New 建立查詢客戶端；timeout 套用於每次網路呼叫
func New(apiBase, rawBase, token string, timeout time.Duration) *Client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	if rawBase == "" {
		rawBase = defaultRawBase
	}
	return &Client{
		APIBase: apiBase,
		RawBase: rawBase,
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Resolve 解析字型來源目前的上游版本
//
// 失敗分類：404 與找不到符合資產 → ErrNotFound（不重試）；
// 傳輸錯誤與 5xx → ErrTransient（可重試）
func (c *Client) Resolve(ctx context.Context, src types.FontSource) (*Version, error) {
	switch src.Source {
	case types.SourceRelease:
		return c.latestRelease(ctx, src)
	case types.SourceCommit:
		return c.latestCommit(ctx, src)
	default:
		return nil, fmt.Errorf("font %s: unknown source type %q", src.ID, src.Source)
	}
}

type releaseResponse struct {
	TagName     string `json:"tag_name"`
	PublishedAt string `json:"published_at"`
	Assets      []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	} `json:"assets"`
}

func (c *Client) latestRelease(ctx context.Context, src types.FontSource) (*Version, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.APIBase, src.Owner, src.Repo)
	body, err := c.get(ctx, endpoint, string(src.ID))
	if err != nil {
		return nil, err
	}

	var rel releaseResponse
	if err := json.Unmarshal(body, &rel); err != nil {
		return nil, fmt.Errorf("font %s: decode release: %w", src.ID, err)
	}
	if rel.TagName == "" {
		return nil, fmt.Errorf("font %s: release has no tag: %w", src.ID, types.ErrNotFound)
	}

	for _, asset := range rel.Assets {
		matched, err := path.Match(src.AssetPattern, asset.Name)
		if err != nil {
			return nil, fmt.Errorf("font %s: bad asset pattern %q: %w", src.ID, src.AssetPattern, err)
		}
		if matched {
			return &Version{
				Version:     rel.TagName,
				PublishedAt: rel.PublishedAt,
				DownloadURL: asset.BrowserDownloadURL,
			}, nil
		}
	}
	return nil, fmt.Errorf("font %s: no asset in release %s matches %q: %w",
		src.ID, rel.TagName, src.AssetPattern, types.ErrNotFound)
}

type commitResponse []struct {
	SHA    string `json:"sha"`
	Commit struct {
		Committer struct {
			Date string `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

func (c *Client) latestCommit(ctx context.Context, src types.FontSource) (*Version, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits?path=%s&per_page=1",
		c.APIBase, src.Owner, src.Repo, url.QueryEscape(src.Path))
	body, err := c.get(ctx, endpoint, string(src.ID))
	if err != nil {
		return nil, err
	}

	var commits commitResponse
	if err := json.Unmarshal(body, &commits); err != nil {
		return nil, fmt.Errorf("font %s: decode commits: %w", src.ID, err)
	}
	if len(commits) == 0 || commits[0].SHA == "" {
		return nil, fmt.Errorf("font %s: no commit touches %s: %w", src.ID, src.Path, types.ErrNotFound)
	}

	return &Version{
		Version:     commits[0].SHA,
		PublishedAt: commits[0].Commit.Committer.Date,
		DownloadURL: fmt.Sprintf("%s/%s/%s/%s/%s", c.RawBase, src.Owner, src.Repo, commits[0].SHA, src.Path),
	}, nil
}

// get 發出單次 API 請求並分類失敗
func (c *Client) get(ctx context.Context, endpoint, fontID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("font %s: build request: %w", fontID, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "fontpack")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: font %s: request: %v", types.ErrTransient, fontID, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("font %s: status 404: %w", fontID, types.ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: font %s: status %d: %s", types.ErrTransient, fontID, resp.StatusCode, truncate(body))
	default:
		// 其餘 4xx：不可重試，保留回應內容方便診斷
		return nil, fmt.Errorf("font %s: status %d: %s", fontID, resp.StatusCode, truncate(body))
	}
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
