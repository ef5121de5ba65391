package autochatter

import (
	"errors"

	"autochatter/auth"
	"autochatter/config"
	"autochatter/internal/retry"
	"autochatter/storage"
	"autochatter/youtube"
)

// Type aliases for convenient error handling.
type (
	// APIError is a classified YouTube Data API failure.
	APIError = youtube.APIError
	// ListerError wraps errors during upload listing.
	ListerError = youtube.ListerError
	// ExhaustedError is returned when every retry attempt failed transiently.
	ExhaustedError = retry.ExhaustedError
	// StorageError wraps errors during state operations.
	StorageError = storage.StorageError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrChannelNotFound indicates the YouTube channel does not exist.
	ErrChannelNotFound = youtube.ErrChannelNotFound
	// ErrVideoNotFound indicates the video does not exist.
	ErrVideoNotFound = youtube.ErrVideoNotFound
	// ErrInvalidDuration indicates an unparsable ISO 8601 duration.
	ErrInvalidDuration = youtube.ErrInvalidDuration

	// ErrMissingChannel indicates no channel was configured.
	ErrMissingChannel = config.ErrMissingChannel
	// ErrInvalidConfig indicates a malformed or out-of-range setting.
	ErrInvalidConfig = config.ErrInvalid
	// ErrClientSecretsMissing indicates the OAuth client file is absent.
	ErrClientSecretsMissing = auth.ErrClientSecretsMissing

	// ErrStorageCorrupt indicates the state file could not be decoded.
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	// ErrLockTimeout indicates another instance holds the state lock.
	ErrLockTimeout = storage.ErrLockTimeout
	// ErrUnknownBackend indicates an unsupported state backend.
	ErrUnknownBackend = storage.ErrUnknownBackend
)

// IsConfigError reports whether err is a configuration problem the user has
// to fix (missing channel or credentials, invalid settings), as opposed to a
// runtime initialization failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMissingChannel) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrClientSecretsMissing) ||
		errors.Is(err, ErrUnknownBackend)
}
