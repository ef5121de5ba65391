// Package youtube is the remote content client: it lists a channel's recent
// uploads, looks up video durations and posts top-level comments through the
// YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
)

// Sentinel errors for remote operations.
var (
	ErrChannelNotFound = errors.New("youtube: channel not found")
	ErrVideoNotFound   = errors.New("youtube: video not found")
	ErrInvalidDuration = errors.New("youtube: invalid duration")
)

// Video is one upload discovered in a poll cycle.
type Video struct {
	// ID is the YouTube video ID (e.g., "dQw4w9WgXcQ").
	ID string `json:"id"`
	// Title is the video title, for display only.
	Title string `json:"title"`
	// PublishedAt is the publication timestamp as reported by the source.
	PublishedAt string `json:"published_at"`
}

// URL returns the watch URL for the video.
func (v Video) URL() string {
	return "https://www.youtube.com/watch?v=" + v.ID
}

// UploadLister fetches the most recent uploads of a channel, newest first.
type UploadLister interface {
	ListRecentUploads(ctx context.Context, channelID string, maxResults int) ([]Video, error)
}

// ListerError wraps listing errors with the source and channel involved.
//
//	var listerErr *youtube.ListerError
//	if errors.As(err, &listerErr) {
//		fmt.Printf("Failed to list from %s: %v\n", listerErr.Source, listerErr.Err)
//	}
type ListerError struct {
	// Source indicates which lister produced the error ("api", "rss").
	Source string
	// Channel is the channel ID that was being listed.
	Channel string
	// Err is the underlying error.
	Err error
}

func (e *ListerError) Error() string {
	return "youtube: " + e.Source + " listing " + e.Channel + ": " + e.Err.Error()
}

func (e *ListerError) Unwrap() error { return e.Err }
