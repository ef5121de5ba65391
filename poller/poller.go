// Package poller runs the watch loop: fetch recent uploads, skip the ones
// already handled, filter, wait a random delay, comment, and record each
// video as seen.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"autochatter/filter"
	"autochatter/storage"
	"autochatter/youtube"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("autochatter/poller")

// fallbackInterval is the wait used when the schedule yields no future run
// and no PollInterval is configured.
const fallbackInterval = 10 * time.Minute

// Poster publishes a comment and reports whether it landed.
type Poster interface {
	PostComment(ctx context.Context, videoID, text string) bool
}

// Chooser produces the comment text.
type Chooser interface {
	Choose(inclusionProbability float64, link string) string
}

// ShortsChecker reports whether a video is short enough to comment on.
type ShortsChecker interface {
	IsShort(ctx context.Context, videoID string) (bool, time.Duration, error)
}

// Config holds the loop settings.
type Config struct {
	ChannelID  string
	MaxResults int

	// PollInterval is used when Schedule is nil, and as the wait whenever
	// Schedule yields no future run.
	PollInterval time.Duration
	Schedule     cron.Schedule

	MinCommentDelay time.Duration
	MaxCommentDelay time.Duration

	LinkURL           string
	LinkInclusionRate float64
}

// Outcome is what ProcessVideo did with a video.
type Outcome int

const (
	// OutcomeSeen means the video was already handled; nothing happened.
	OutcomeSeen Outcome = iota
	// OutcomeCommented means a comment was posted and the video marked seen.
	OutcomeCommented
	// OutcomeFailed means posting failed; the video was still marked seen.
	OutcomeFailed
	// OutcomeSkipped means a filter rejected the video and it was marked seen.
	OutcomeSkipped
	// OutcomeDeferred means the video was left unseen for the next cycle.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSeen:
		return "seen"
	case OutcomeCommented:
		return "commented"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDeferred:
		return "deferred"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	CycleID   string
	Fetched   int
	New       int
	Commented int
	Failed    int
	Skipped   int
	Deferred  int
	// Err is set when the cycle ended early: listing failed or a panic was
	// recovered.
	Err error
}

// Poller owns the seen-state store and remote session for its lifetime and
// runs strictly sequentially.
type Poller struct {
	cfg      Config
	lister   youtube.UploadLister
	poster   Poster
	store    storage.SeenStore
	selector Chooser
	logger   *slog.Logger

	shorts ShortsChecker
	rule   *filter.Rule
	rnd    *rand.Rand
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithShorts enables the Shorts-only filter.
func WithShorts(s ShortsChecker) Option {
	return func(p *Poller) { p.shorts = s }
}

// WithRule sets an include rule; videos it rejects are skipped.
func WithRule(r *filter.Rule) Option {
	return func(p *Poller) { p.rule = r }
}

// WithRand sets the randomness source for comment delays.
func WithRand(r *rand.Rand) Option {
	return func(p *Poller) { p.rnd = r }
}

// WithSleep replaces the context-aware timer used for every wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) { p.sleep = sleep }
}

// WithClock replaces time.Now for schedule computations.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New builds a Poller.
func New(cfg Config, lister youtube.UploadLister, poster Poster, store storage.SeenStore, selector Chooser, logger *slog.Logger, opts ...Option) (*Poller, error) {
	if lister == nil || poster == nil || store == nil || selector == nil {
		return nil, errors.New("poller: lister, poster, store and selector are required")
	}
	if cfg.Schedule == nil {
		if cfg.PollInterval <= 0 {
			return nil, errors.New("poller: poll interval must be positive")
		}
		cfg.Schedule = cron.Every(cfg.PollInterval)
	}
	if cfg.MaxCommentDelay < cfg.MinCommentDelay {
		return nil, errors.New("poller: max comment delay is below min comment delay")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Poller{
		cfg:      cfg,
		lister:   lister,
		poster:   poster,
		store:    store,
		selector: selector,
		logger:   logger.With("component", "poller"),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rnd == nil {
		seed := uint64(time.Now().UnixNano())
		p.rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}
	if now := p.now(); !cfg.Schedule.Next(now).After(now) {
		return nil, errors.New("poller: schedule has no upcoming run")
	}
	return p, nil
}

// Run polls until ctx is cancelled. The first cycle starts immediately;
// later ones follow the schedule. A failing cycle is logged and never stops
// the loop. Run returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("starting polling loop", "channel_id", p.cfg.ChannelID)
	for {
		p.RunCycle(ctx)
		if ctx.Err() != nil {
			break
		}

		next, wait := p.nextRun()
		p.logger.Info("waiting until next check", "wait", wait.Round(time.Second), "next_check", next.Format(time.RFC3339))
		if err := p.sleep(ctx, wait); err != nil {
			break
		}
	}
	p.logger.Info("received interrupt signal, shutting down")
	return nil
}

// nextRun returns the next scheduled check and the wait until it. A schedule
// that yields no future time falls back to the poll interval, so the loop
// never spins.
func (p *Poller) nextRun() (time.Time, time.Duration) {
	now := p.now()
	next := p.cfg.Schedule.Next(now)
	if next.After(now) {
		return next, next.Sub(now)
	}
	wait := p.cfg.PollInterval
	if wait <= 0 {
		wait = fallbackInterval
	}
	p.logger.Warn("schedule has no upcoming run, using poll interval", "wait", wait)
	return now.Add(wait), wait
}

// RunCycle performs one poll: list recent uploads and process each unseen
// one in order. Errors and panics are logged and reported in the result.
func (p *Poller) RunCycle(ctx context.Context) (res CycleResult) {
	res.CycleID = uuid.NewString()
	logger := p.logger.With("cycle_id", res.CycleID)

	ctx, span := tracer.Start(ctx, "poller.RunCycle", trace.WithAttributes(
		attribute.String("cycle_id", res.CycleID),
		attribute.String("channel_id", p.cfg.ChannelID),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("poller: panic: %v", r)
			span.RecordError(res.Err)
			logger.Error("error in polling loop", "error", res.Err)
		}
	}()

	logger.Info("checking for new videos", "channel_id", p.cfg.ChannelID)

	videos, err := p.lister.ListRecentUploads(ctx, p.cfg.ChannelID, p.cfg.MaxResults)
	if err != nil {
		res.Err = err
		span.RecordError(err)
		if errors.Is(err, youtube.ErrChannelNotFound) {
			logger.Warn("channel not found", "channel_id", p.cfg.ChannelID, "error", err)
		} else {
			logger.Error("error fetching channel uploads", "error", err)
		}
		return res
	}
	res.Fetched = len(videos)
	if len(videos) == 0 {
		logger.Info("no videos found")
		return res
	}

	for _, v := range videos {
		if ctx.Err() != nil {
			break
		}
		if p.store.IsSeen(v.ID) {
			logger.Debug("video already processed, skipping", "video_id", v.ID)
			continue
		}
		res.New++
		switch p.processVideo(ctx, logger, v) {
		case OutcomeCommented:
			res.Commented++
		case OutcomeFailed:
			res.Failed++
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeDeferred:
			res.Deferred++
		}
	}

	span.SetAttributes(
		attribute.Int("videos.new", res.New),
		attribute.Int("videos.commented", res.Commented),
	)
	if res.New == 0 {
		logger.Info("no new videos to process")
	} else {
		logger.Info(fmt.Sprintf("processed %d new video(s)", res.New),
			"commented", res.Commented,
			"failed", res.Failed,
			"skipped", res.Skipped,
			"deferred", res.Deferred)
	}
	return res
}

// ProcessVideo handles one upload: filters, random delay, comment, and
// mark seen. The video is marked seen whether or not the comment posts.
func (p *Poller) ProcessVideo(ctx context.Context, v youtube.Video) Outcome {
	return p.processVideo(ctx, p.logger, v)
}

func (p *Poller) processVideo(ctx context.Context, logger *slog.Logger, v youtube.Video) Outcome {
	if p.store.IsSeen(v.ID) {
		return OutcomeSeen
	}

	ctx, span := tracer.Start(ctx, "poller.ProcessVideo", trace.WithAttributes(
		attribute.String("video_id", v.ID),
	))
	defer span.End()

	logger = logger.With("video_id", v.ID)
	logger.Info("processing new video", "title", v.Title, "url", v.URL())

	outcome := p.process(ctx, logger, v)
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	return outcome
}

func (p *Poller) process(ctx context.Context, logger *slog.Logger, v youtube.Video) Outcome {
	if p.rule != nil {
		ok, err := p.rule.Match(v)
		if err != nil {
			logger.Error("error evaluating include rule, skipping video", "rule", p.rule.String(), "error", err)
			p.store.MarkSeen(v.ID)
			return OutcomeSkipped
		}
		if !ok {
			logger.Info("skipping video excluded by include rule", "rule", p.rule.String())
			p.store.MarkSeen(v.ID)
			return OutcomeSkipped
		}
	}

	if p.shorts != nil {
		short, d, err := p.shorts.IsShort(ctx, v.ID)
		switch {
		case errors.Is(err, youtube.ErrVideoNotFound):
			logger.Info("video duration unavailable, skipping as non-Short")
			p.store.MarkSeen(v.ID)
			return OutcomeSkipped
		case err != nil:
			logger.Warn("error fetching video duration, will retry next cycle", "error", err)
			return OutcomeDeferred
		case !short:
			logger.Info("skipping non-Short video", "duration", d)
			p.store.MarkSeen(v.ID)
			return OutcomeSkipped
		}
		logger.Info("video is a Short, proceeding with comment", "duration", d)
	}

	delay := p.commentDelay()
	logger.Info("waiting before commenting", "delay", delay)
	if err := p.sleep(ctx, delay); err != nil {
		logger.Info("interrupted before commenting, video left for next run")
		return OutcomeDeferred
	}

	text := p.selector.Choose(p.cfg.LinkInclusionRate, p.cfg.LinkURL)
	logger.Info("posting comment")
	logger.Debug("comment text", "text", text)

	posted := p.poster.PostComment(ctx, v.ID, text)
	if posted {
		logger.Info("successfully commented on video", "title", v.Title)
	} else {
		logger.Error("failed to comment on video", "title", v.Title)
	}

	// Seen regardless of the post result.
	p.store.MarkSeen(v.ID)
	if posted {
		return OutcomeCommented
	}
	return OutcomeFailed
}

// commentDelay returns a uniform random duration in
// [MinCommentDelay, MaxCommentDelay].
func (p *Poller) commentDelay() time.Duration {
	span := p.cfg.MaxCommentDelay - p.cfg.MinCommentDelay
	if span <= 0 {
		return p.cfg.MinCommentDelay
	}
	return p.cfg.MinCommentDelay + time.Duration(p.rnd.Int64N(int64(span)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
