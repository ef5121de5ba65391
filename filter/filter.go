// Package filter decides which new uploads are eligible for a comment.
package filter

import (
	"context"
	"fmt"
	"time"

	"autochatter/youtube"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DurationFetcher looks up a video's length.
type DurationFetcher interface {
	FetchDuration(ctx context.Context, videoID string) (time.Duration, error)
}

// Shorts accepts videos no longer than Max.
type Shorts struct {
	fetcher DurationFetcher
	max     time.Duration
}

// NewShorts returns a Shorts filter with the given inclusive threshold.
func NewShorts(fetcher DurationFetcher, max time.Duration) *Shorts {
	return &Shorts{fetcher: fetcher, max: max}
}

// Max returns the duration threshold.
func (s *Shorts) Max() time.Duration { return s.max }

// IsShort reports whether the video is at most Max long. Errors from the
// fetcher are returned unchanged, along with the duration when known.
func (s *Shorts) IsShort(ctx context.Context, videoID string) (bool, time.Duration, error) {
	d, err := s.fetcher.FetchDuration(ctx, videoID)
	if err != nil {
		return false, 0, err
	}
	return d <= s.max, d, nil
}

// Rule is a compiled include expression, e.g.
//
//	not (title contains "#ad") && published_at >= "2024-01-01"
//
// The expression sees the string variables id, title and published_at and
// must evaluate to a bool.
type Rule struct {
	source  string
	program *vm.Program
}

// NewRule compiles src. An empty src yields a nil Rule, which matches
// everything.
func NewRule(src string) (*Rule, error) {
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.Env(ruleEnv(youtube.Video{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile include_expr: %w", err)
	}
	return &Rule{source: src, program: program}, nil
}

// String returns the expression source.
func (r *Rule) String() string {
	if r == nil {
		return ""
	}
	return r.source
}

// Match evaluates the rule against v.
func (r *Rule) Match(v youtube.Video) (bool, error) {
	if r == nil {
		return true, nil
	}
	out, err := expr.Run(r.program, ruleEnv(v))
	if err != nil {
		return false, fmt.Errorf("evaluate include_expr: %w", err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("include_expr returned %T, want bool", out)
	}
	return matched, nil
}

func ruleEnv(v youtube.Video) map[string]any {
	return map[string]any{
		"id":           v.ID,
		"title":        v.Title,
		"published_at": v.PublishedAt,
	}
}
