// Package comment picks the promotional comment text posted on new videos.
package comment

import (
	"errors"
	"math/rand/v2"
	"time"
)

// DefaultTemplates is the built-in comment set.
var DefaultTemplates = []string{
	"Great video! Really enjoyed this content. 🎉",
	"Amazing work! Keep it up! 👏",
	"This is exactly what I was looking for! Thank you! 🙏",
	"Absolutely love your content! Can't wait for more! ❤️",
	"Incredible video! Very well done! 🌟",
	"This is so helpful! Thanks for sharing! 💯",
	"Wow, this is fantastic! Keep creating! 🚀",
	"Really appreciate this content! Well done! 👍",
	"Outstanding video! Very informative! 📚",
	"Love this! More content like this please! 🔥",
}

// DefaultLinkPrefix introduces the appended link.
const DefaultLinkPrefix = "Join our community: "

// ErrNoTemplates is returned when a Selector is built with an empty template set.
var ErrNoTemplates = errors.New("comment: at least one template is required")

// Selector chooses comment text. It is not safe for concurrent use.
type Selector struct {
	templates  []string
	linkPrefix string
	rnd        *rand.Rand
}

// Option configures a Selector.
type Option func(*Selector)

// WithRand sets the randomness source, e.g. a fixed-seed generator in tests.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) { s.rnd = r }
}

// WithLinkPrefix sets the text placed before the appended link.
func WithLinkPrefix(prefix string) Option {
	return func(s *Selector) { s.linkPrefix = prefix }
}

// NewSelector returns a Selector over templates. A nil slice selects
// DefaultTemplates; an empty one is rejected.
func NewSelector(templates []string, opts ...Option) (*Selector, error) {
	if templates == nil {
		templates = DefaultTemplates
	}
	if len(templates) == 0 {
		return nil, ErrNoTemplates
	}

	s := &Selector{
		templates:  append([]string(nil), templates...),
		linkPrefix: DefaultLinkPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		seed := uint64(time.Now().UnixNano())
		s.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return s, nil
}

// Templates returns a copy of the template set.
func (s *Selector) Templates() []string {
	return append([]string(nil), s.templates...)
}

// ShouldIncludeLink returns true with the given probability.
func (s *Selector) ShouldIncludeLink(probability float64) bool {
	return s.rnd.Float64() < probability
}

// Choose returns a uniformly random template. With probability
// inclusionProbability, and only when link is non-empty, the link is
// appended after a blank line.
func (s *Selector) Choose(inclusionProbability float64, link string) string {
	text := s.templates[s.rnd.IntN(len(s.templates))]
	if s.ShouldIncludeLink(inclusionProbability) && link != "" {
		text += "\n\n" + s.linkPrefix + link
	}
	return text
}
