package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"

	"keyword_bot/internal/model"
	"keyword_bot/internal/storage"
)

type mockHTTPClient struct {
	body   string
	status int
	err    error
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func newTestIngester(t *testing.T, client HTTPClient) (*Ingester, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, store, log), store
}

const sampleScrapeJSON = `{
  "success": true,
  "count": 3,
  "data": [
    {"id": 103, "title": "出 CN2 GIA 洛杉矶 8折", "author": "seller", "time": "2024-05-01 10:00", "type": "交易"},
    {"id": 102, "title": "OVH 独服求购", "author": "buyer", "time": "2024-05-01 09:30", "type": "求购"},
    {"id": 101, "title": "测试帖", "author": "tester", "time": "2024-05-01 09:00", "type": "日常"}
  ]
}`

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>NodeSeek</title>
    <item>
      <title>出 ovh 服务器 0.97</title>
      <link>https://www.nodeseek.com/post-205-1</link>
      <guid>https://www.nodeseek.com/post-205-1</guid>
      <description>便宜出</description>
    </item>
    <item>
      <title>无编号公告</title>
      <link>https://www.nodeseek.com/announcement</link>
      <guid>announcement-1</guid>
    </item>
  </channel>
</rss>`

func TestFetchWeb(t *testing.T) {
	ctx := context.Background()

	t.Run("saves all new items", func(t *testing.T) {
		ing, store := newTestIngester(t, &mockHTTPClient{body: sampleScrapeJSON})

		saved, err := ing.FetchWeb(ctx, "https://scrape.example.com/posts")
		if err != nil {
			t.Fatalf("fetch web: %v", err)
		}
		if diff := cmp.Diff(3, saved); diff != "" {
			t.Errorf("saved (-want +got):\n%s", diff)
		}

		post, err := store.GetPostByPID(ctx, 103)
		if err != nil {
			t.Fatalf("get post: %v", err)
		}
		if diff := cmp.Diff("出 CN2 GIA 洛杉矶 8折", post.Title); diff != "" {
			t.Errorf("title (-want +got):\n%s", diff)
		}
		if !strings.Contains(post.Desc, "作者: seller") || !strings.Contains(post.Desc, "类型: 交易") {
			t.Errorf("desc missing fields:\n%s", post.Desc)
		}
		if diff := cmp.Diff(model.FromTypeWeb, post.FromType); diff != "" {
			t.Errorf("from_type (-want +got):\n%s", diff)
		}
	})

	t.Run("skips ids at or below max pid", func(t *testing.T) {
		ing, store := newTestIngester(t, &mockHTTPClient{body: sampleScrapeJSON})
		seed := &model.Post{PID: 102, Title: "已有帖", FromType: model.FromTypeWeb}
		if err := store.CreatePost(ctx, seed); err != nil {
			t.Fatalf("seed post: %v", err)
		}

		saved, err := ing.FetchWeb(ctx, "https://scrape.example.com/posts")
		if err != nil {
			t.Fatalf("fetch web: %v", err)
		}
		if diff := cmp.Diff(1, saved); diff != "" {
			t.Errorf("saved (-want +got):\n%s", diff)
		}
		if _, err := store.GetPostByPID(ctx, 101); err == nil {
			t.Error("post below max pid was saved")
		}
	})

	t.Run("api failure", func(t *testing.T) {
		ing, _ := newTestIngester(t, &mockHTTPClient{body: `{"success": false}`})
		if _, err := ing.FetchWeb(ctx, "https://scrape.example.com/posts"); err == nil {
			t.Fatal("expected error for failed api response")
		}
	})

	t.Run("http status error", func(t *testing.T) {
		ing, _ := newTestIngester(t, &mockHTTPClient{body: "busy", status: http.StatusServiceUnavailable})
		if _, err := ing.FetchWeb(ctx, "https://scrape.example.com/posts"); err == nil {
			t.Fatal("expected error for non-200 status")
		}
	})

	t.Run("transport error", func(t *testing.T) {
		ing, _ := newTestIngester(t, &mockHTTPClient{err: errors.New("connection refused")})
		if _, err := ing.FetchWeb(ctx, "https://scrape.example.com/posts"); err == nil {
			t.Fatal("expected transport error")
		}
	})
}

func TestFetchRSS(t *testing.T) {
	ctx := context.Background()

	t.Run("saves items with post ids", func(t *testing.T) {
		ing, store := newTestIngester(t, &mockHTTPClient{body: sampleRSS})

		saved, err := ing.FetchRSS(ctx, "https://rss.nodeseek.com/")
		if err != nil {
			t.Fatalf("fetch rss: %v", err)
		}
		// The announcement item has no post id and is skipped.
		if diff := cmp.Diff(1, saved); diff != "" {
			t.Errorf("saved (-want +got):\n%s", diff)
		}

		post, err := store.GetPostByPID(ctx, 205)
		if err != nil {
			t.Fatalf("get post: %v", err)
		}
		if diff := cmp.Diff("出 ovh 服务器 0.97", post.Title); diff != "" {
			t.Errorf("title (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(model.FromTypeRSS, post.FromType); diff != "" {
			t.Errorf("from_type (-want +got):\n%s", diff)
		}
	})

	t.Run("repeat fetch saves nothing new", func(t *testing.T) {
		ing, _ := newTestIngester(t, &mockHTTPClient{body: sampleRSS})

		if _, err := ing.FetchRSS(ctx, "https://rss.nodeseek.com/"); err != nil {
			t.Fatalf("first fetch: %v", err)
		}
		saved, err := ing.FetchRSS(ctx, "https://rss.nodeseek.com/")
		if err != nil {
			t.Fatalf("second fetch: %v", err)
		}
		if diff := cmp.Diff(0, saved); diff != "" {
			t.Errorf("saved on repeat fetch (-want +got):\n%s", diff)
		}
	})

	t.Run("broken feed", func(t *testing.T) {
		ing, _ := newTestIngester(t, &mockHTTPClient{body: "not a feed"})
		if _, err := ing.FetchRSS(ctx, "https://rss.nodeseek.com/"); err == nil {
			t.Fatal("expected parse error")
		}
	})
}

func TestItemPIDFromLink(t *testing.T) {
	tests := []struct {
		name string
		guid string
		link string
		want int64
	}{
		{"from guid", "https://www.nodeseek.com/post-42-1", "", 42},
		{"from link when guid lacks id", "item-guid", "https://www.nodeseek.com/post-7-2", 7},
		{"no id anywhere", "item-guid", "https://www.nodeseek.com/", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := itemPID(&gofeed.Item{GUID: tt.guid, Link: tt.link})
			if got != tt.want {
				t.Errorf("itemPID() = %d, want %d", got, tt.want)
			}
		})
	}
}
