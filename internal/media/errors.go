package media

import "errors"

var (
	// ErrAssetTooLarge indicates the payload exceeds the configured max asset size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrIncompleteDownload indicates fewer bytes arrived than the platform announced.
	ErrIncompleteDownload = errors.New("media download incomplete")
	// ErrInvalidDescriptor indicates message content is not a media descriptor.
	ErrInvalidDescriptor = errors.New("invalid media descriptor")
	ErrUnsupportedImage  = errors.New("unsupported image format")
)
