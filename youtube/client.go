package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"autochatter/internal/retry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// Scope is the OAuth scope needed to list uploads and post comments.
const Scope = youtube.YoutubeForceSslScope

var tracer = otel.Tracer("autochatter/youtube")

// Client talks to the YouTube Data API v3 on behalf of the authenticated
// account. It is used from a single poll loop.
type Client struct {
	service *youtube.Service
	retry   retry.Config
	logger  *slog.Logger

	// uploads caches channel ID -> uploads playlist ID.
	uploads map[string]string
}

// NewClient builds a Client over an authenticated HTTP client. Extra options
// are passed to the underlying service (tests use option.WithEndpoint).
func NewClient(ctx context.Context, httpClient *http.Client, cfg retry.Config, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient != nil {
		opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	}

	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	return &Client{
		service: service,
		retry:   cfg,
		logger:  logger.With("component", "youtube"),
		uploads: make(map[string]string),
	}, nil
}

// ListRecentUploads returns up to maxResults of the channel's most recent
// uploads, newest first. A channel that does not exist yields an error
// wrapping ErrChannelNotFound.
func (c *Client) ListRecentUploads(ctx context.Context, channelID string, maxResults int) ([]Video, error) {
	ctx, span := tracer.Start(ctx, "youtube.ListRecentUploads", trace.WithAttributes(
		attribute.String("channel_id", channelID),
		attribute.Int("max_results", maxResults),
	))
	defer span.End()

	playlistID, err := c.uploadsPlaylist(ctx, channelID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve uploads playlist")
		return nil, &ListerError{Source: "api", Channel: channelID, Err: err}
	}

	resp, err := c.service.PlaylistItems.List([]string{"snippet"}).
		PlaylistId(playlistID).
		MaxResults(int64(maxResults)).
		Context(ctx).
		Do()
	if err != nil {
		err = wrapAPIError("playlistItems.list", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list playlist items")
		return nil, &ListerError{Source: "api", Channel: channelID, Err: err}
	}

	videos := make([]Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Snippet == nil || item.Snippet.ResourceId == nil || item.Snippet.ResourceId.VideoId == "" {
			continue
		}
		videos = append(videos, Video{
			ID:          item.Snippet.ResourceId.VideoId,
			Title:       item.Snippet.Title,
			PublishedAt: item.Snippet.PublishedAt,
		})
	}

	span.SetAttributes(attribute.Int("videos", len(videos)))
	c.logger.Info("fetched uploads", "channel_id", channelID, "count", len(videos))
	return videos, nil
}

func (c *Client) uploadsPlaylist(ctx context.Context, channelID string) (string, error) {
	if id, ok := c.uploads[channelID]; ok {
		return id, nil
	}

	resp, err := c.service.Channels.List([]string{"contentDetails"}).
		Id(channelID).
		Context(ctx).
		Do()
	if err != nil {
		return "", wrapAPIError("channels.list", err)
	}
	if len(resp.Items) == 0 {
		return "", ErrChannelNotFound
	}

	details := resp.Items[0].ContentDetails
	if details == nil || details.RelatedPlaylists == nil || details.RelatedPlaylists.Uploads == "" {
		return "", fmt.Errorf("%w: no uploads playlist", ErrChannelNotFound)
	}

	id := details.RelatedPlaylists.Uploads
	c.uploads[channelID] = id
	return id, nil
}

// FetchDuration returns the length of a video. It returns ErrVideoNotFound
// when the API knows no such video, and an error wrapping ErrInvalidDuration
// when the reported duration cannot be parsed.
func (c *Client) FetchDuration(ctx context.Context, videoID string) (time.Duration, error) {
	ctx, span := tracer.Start(ctx, "youtube.FetchDuration", trace.WithAttributes(
		attribute.String("video_id", videoID),
	))
	defer span.End()

	resp, err := c.service.Videos.List([]string{"contentDetails"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		err = wrapAPIError("videos.list", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list videos")
		return 0, err
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails == nil {
		return 0, ErrVideoNotFound
	}

	seconds, err := ParseDuration(resp.Items[0].ContentDetails.Duration)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

// PostComment publishes text as a new top-level comment on videoID.
// Rate-limit and server errors are retried with exponential backoff; any
// other failure, or running out of attempts, is logged and reported as false.
func (c *Client) PostComment(ctx context.Context, videoID, text string) bool {
	ctx, span := tracer.Start(ctx, "youtube.PostComment", trace.WithAttributes(
		attribute.String("video_id", videoID),
	))
	defer span.End()

	logger := c.logger.With("video_id", videoID)

	cfg := c.retry
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, backoff time.Duration, err error) {
		status := 0
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		logger.Warn("transient error posting comment, retrying",
			"status", status,
			"retry_in", backoff,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries)
		if onRetry != nil {
			onRetry(attempt, backoff, err)
		}
	}

	thread := &youtube.CommentThread{
		Snippet: &youtube.CommentThreadSnippet{
			VideoId: videoID,
			TopLevelComment: &youtube.Comment{
				Snippet: &youtube.CommentSnippet{TextOriginal: text},
			},
		},
	}

	attempts := 0
	err := retry.Do(ctx, cfg, retry.Classify, func(ctx context.Context) error {
		attempts++
		_, err := c.service.CommentThreads.Insert([]string{"snippet"}, thread).Context(ctx).Do()
		return wrapAPIError("commentThreads.insert", err)
	})
	span.SetAttributes(attribute.Int("attempts", attempts))

	if err == nil {
		logger.Info("posted comment")
		return true
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "post comment")

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		logger.Error(fmt.Sprintf("failed to post comment after %d retries", exhausted.Attempts), "error", exhausted.Err)
		return false
	}
	logger.Error("error posting comment", "error", err)
	return false
}
