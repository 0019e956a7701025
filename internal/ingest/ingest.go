// Package ingest pulls new posts from the scrape API and the NodeSeek RSS
// feed into the posts table, where the push pipeline picks them up.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"keyword_bot/internal/model"
	"keyword_bot/internal/storage"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Ingester downloads posts from external sources and stores the unseen ones
// unhandled.
type Ingester struct {
	client HTTPClient
	store  storage.Storage
	log    *slog.Logger
}

// New creates an Ingester with the given HTTP client.
func New(client HTTPClient, store storage.Storage, log *slog.Logger) *Ingester {
	return &Ingester{client: client, store: store, log: log}
}

// scrapeResponse is the envelope returned by the scrape API.
type scrapeResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Data    []scrapeItem `json:"data"`
}

type scrapeItem struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Time   string `json:"time"`
	Type   string `json:"type"`
}

// FetchWeb pulls the scrape API at url and saves every item with an ID
// above the highest stored post ID. It returns the number of new posts.
func (g *Ingester) FetchWeb(ctx context.Context, url string) (int, error) {
	body, err := g.get(ctx, url)
	if err != nil {
		return 0, err
	}

	var resp scrapeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse scrape response: %w", err)
	}
	if !resp.Success {
		return 0, fmt.Errorf("scrape API reported failure")
	}

	maxPID, err := g.store.MaxPID(ctx)
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, item := range resp.Data {
		if item.ID == 0 || item.ID <= maxPID {
			continue
		}

		title := strings.TrimSpace(item.Title)
		desc := fmt.Sprintf("作者: %s\n时间: %s\n类型: %s",
			strings.TrimSpace(item.Author), strings.TrimSpace(item.Time), strings.TrimSpace(item.Type))

		created, err := g.save(ctx, item.ID, title, desc, model.FromTypeWeb)
		if err != nil {
			g.log.Error("save scraped post", "pid", item.ID, "error", err)
			continue
		}
		if created {
			saved++
		}
	}

	if saved > 0 {
		g.log.Info("web ingest complete", "total", resp.Count, "saved", saved)
	}
	return saved, nil
}

// pidRe extracts the numeric post ID from a NodeSeek post URL.
var pidRe = regexp.MustCompile(`post-(\d+)-\d+`)

// FetchRSS pulls the RSS feed at url and saves unseen items. The post ID is
// derived from the item GUID or link. Returns the number of new posts.
func (g *Ingester) FetchRSS(ctx context.Context, url string) (int, error) {
	body, err := g.get(ctx, url)
	if err != nil {
		return 0, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return 0, fmt.Errorf("parse feed: %w", err)
	}

	saved := 0
	for _, item := range feed.Items {
		pid := itemPID(item)
		if pid == 0 {
			g.log.Debug("skip item without post id", "guid", item.GUID, "link", item.Link)
			continue
		}

		created, err := g.save(ctx, pid, strings.TrimSpace(item.Title), item.Description, model.FromTypeRSS)
		if err != nil {
			g.log.Error("save rss post", "pid", pid, "error", err)
			continue
		}
		if created {
			saved++
		}
	}

	if saved > 0 {
		g.log.Info("rss ingest complete", "items", len(feed.Items), "saved", saved)
	}
	return saved, nil
}

func itemPID(item *gofeed.Item) int64 {
	for _, s := range []string{item.GUID, item.Link} {
		if m := pidRe.FindStringSubmatch(s); m != nil {
			pid, err := strconv.ParseInt(m[1], 10, 64)
			if err == nil {
				return pid
			}
		}
	}
	return 0
}

// save inserts a post if its PID is unseen. Reports whether a row was created.
func (g *Ingester) save(ctx context.Context, pid int64, title, desc string, fromType int) (bool, error) {
	_, err := g.store.GetPostByPID(ctx, pid)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	post := &model.Post{PID: pid, Title: title, Desc: desc, FromType: fromType}
	if err := g.store.CreatePost(ctx, post); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Ingester) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
