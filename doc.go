// Package autochatter watches a YouTube channel and posts a comment on each
// new upload.
//
// # Overview
//
// The daemon (cli, built as the autochatter binary) polls the channel's most
// recent uploads on a fixed interval or cron schedule. Every video it has not
// seen before is optionally filtered (Shorts-only mode, include expression),
// then after a random delay it receives a comment chosen from a template set,
// sometimes followed by a promotional link. The video is then recorded in a
// persisted seen-set so it is never commented on twice.
//
//	autochatter auth                 # one-time OAuth consent, writes token.json
//	autochatter run                  # poll until interrupted
//	autochatter state                # show tracked-video count and last check
//
// # Configuration
//
// Settings are loaded from several sources:
//
//  1. Environment variables, including a .env file (highest priority)
//  2. Config file (autochatter.yaml, autochatter.yml, autochatter.json, or
//     ~/.config/autochatter/autochatter.yaml; override with --config or
//     AUTOCHATTER_CONFIG)
//  3. Default values (lowest priority)
//
// Commonly used environment variables:
//
//   - YOUTUBE_CHANNEL_ID: channel to watch (required)
//   - AUTOCHATTER_POLL_INTERVAL: time between checks ("10m" or seconds)
//   - AUTOCHATTER_SHORTS_ONLY: only comment on Shorts (true/false)
//   - AUTOCHATTER_LINK_URL: link appended to some comments
//   - AUTOCHATTER_LINK_INCLUSION_RATE: probability of appending the link
//   - AUTOCHATTER_STATE_FILE: seen-video state file
//
// # Error Handling
//
// Remote and state-file failures are logged and never stop the daemon. Only
// startup problems are fatal:
//
//	if autochatter.IsConfigError(err) {
//		fmt.Println("fix the configuration and retry")
//	}
//
// # Packages
//
//   - youtube: Data API client (uploads, durations, comments) and feed lister
//   - poller: the watch loop
//   - storage: seen-video state (JSON file or SQLite)
//   - comment: comment template selection
//   - auth: OAuth installed-app flow and token cache
//   - config: configuration loading and validation
package autochatter
