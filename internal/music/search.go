package music

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MarvelCollin/MisVord-sub009/internal/models"
)

// ErrNoResult 表示没有任何候选曲目带可播放的试听地址。
var ErrNoResult = errors.New("no playable track found")

// Client 调用外部曲目元数据搜索服务。超时退化为“没有结果”，
// 第三方变慢只会让用户看到“没找到”，不会吊死整个房间。
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

type searchResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		TrackName  string `json:"trackName"`
		ArtistName string `json:"artistName"`
		PreviewURL string `json:"previewUrl"`
	} `json:"results"`
}

// Search 返回第一个带可播放 previewUrl 的候选曲目，其余丢弃。
func (c *Client) Search(query string) (*models.Track, error) {
	q := url.Values{}
	q.Set("term", query)
	q.Set("media", "music")
	q.Set("limit", "5")

	resp, err := c.httpClient.Get(c.baseURL + "/search?" + q.Encode())
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("music lookup failed")
		return nil, ErrNoResult
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("query", query).Msg("music lookup bad status")
		return nil, ErrNoResult
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	for _, r := range body.Results {
		if r.PreviewURL == "" {
			continue
		}
		return &models.Track{
			Title:      r.TrackName,
			Artist:     r.ArtistName,
			PreviewURL: r.PreviewURL,
			AddedAt:    time.Now(),
		}, nil
	}
	return nil, ErrNoResult
}
