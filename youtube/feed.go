package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	feedURLTemplate = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"
	feedTimeout     = 30 * time.Second
)

// FeedLister lists uploads from the channel's public Atom feed. It costs no
// API quota but only ever sees the latest fifteen videos.
type FeedLister struct {
	parser *gofeed.Parser
	logger *slog.Logger

	// URLTemplate is the feed URL with a %s verb for the channel ID.
	URLTemplate string
}

// NewFeedLister creates a FeedLister. A nil client uses one with a 30s timeout.
func NewFeedLister(client *http.Client, logger *slog.Logger) *FeedLister {
	if client == nil {
		client = &http.Client{Timeout: feedTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "autochatter"
	return &FeedLister{
		parser:      parser,
		logger:      logger.With("component", "youtube", "source", "rss"),
		URLTemplate: feedURLTemplate,
	}
}

// ListRecentUploads implements UploadLister.
func (f *FeedLister) ListRecentUploads(ctx context.Context, channelID string, maxResults int) ([]Video, error) {
	ctx, span := tracer.Start(ctx, "youtube.FeedLister.ListRecentUploads")
	defer span.End()

	feed, err := f.parser.ParseURLWithContext(fmt.Sprintf(f.URLTemplate, channelID), ctx)
	if err != nil {
		span.RecordError(err)
		var herr gofeed.HTTPError
		if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
			err = ErrChannelNotFound
		}
		return nil, &ListerError{Source: "rss", Channel: channelID, Err: err}
	}

	videos := make([]Video, 0, len(feed.Items))
	for _, item := range feed.Items {
		if maxResults > 0 && len(videos) >= maxResults {
			break
		}
		id := feedVideoID(item)
		if id == "" {
			continue
		}
		videos = append(videos, Video{ID: id, Title: item.Title, PublishedAt: item.Published})
	}

	f.logger.Info("fetched uploads", "channel_id", channelID, "count", len(videos))
	return videos, nil
}

// feedVideoID reads <yt:videoId>, falling back to the "yt:video:" entry ID.
func feedVideoID(item *gofeed.Item) string {
	if yt, ok := item.Extensions["yt"]; ok {
		if ids := yt["videoId"]; len(ids) > 0 && ids[0].Value != "" {
			return ids[0].Value
		}
	}
	if id, ok := strings.CutPrefix(item.GUID, "yt:video:"); ok {
		return id
	}
	return ""
}
