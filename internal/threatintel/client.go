// Package threatintel resolves file hashes against a VirusTotal-compatible
// reputation API and caches verdicts in the store.
package threatintel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultEndpoint = "https://www.virustotal.com/api/v3"

// ErrRateLimited is returned when the API answers 429.
var ErrRateLimited = errors.New("threatintel: rate limited")

// Report is the verdict for one hash. Found is false when the API has never
// seen the file.
type Report struct {
	MD5       string
	Positives int
	Found     bool
}

type fileResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
			} `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

type Client struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	group      singleflight.Group
}

func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FileReport fetches the verdict for md5. Concurrent requests for the same
// hash share one API call.
func (c *Client) FileReport(ctx context.Context, md5 string) (Report, error) {
	md5 = strings.ToLower(strings.TrimSpace(md5))
	if md5 == "" {
		return Report{}, errors.New("threatintel: empty hash")
	}
	// The shared call runs detached from the first caller's context so that
	// one cancelled caller does not fail the others.
	ch := c.group.DoChan(md5, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		return c.fetch(callCtx, md5)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Report{}, res.Err
		}
		return res.Val.(Report), nil
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

func (c *Client) fetch(ctx context.Context, md5 string) (Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/files/"+url.PathEscape(md5), nil)
	if err != nil {
		return Report{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("file report %s: %w", md5, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Report{MD5: md5}, nil
	case http.StatusTooManyRequests:
		return Report{}, ErrRateLimited
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Report{}, fmt.Errorf("file report %s: HTTP %d: %s", md5, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var body fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Report{}, fmt.Errorf("decode file report: %w", err)
	}
	stats := body.Data.Attributes.LastAnalysisStats
	return Report{MD5: md5, Positives: stats.Malicious + stats.Suspicious, Found: true}, nil
}
