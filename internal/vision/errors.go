package vision

import "errors"

var (
	// ErrUnavailable indicates the multimodal endpoint is unreachable.
	ErrUnavailable = errors.New("vision endpoint unavailable")

	// ErrTimeout indicates extraction exceeded the configured timeout.
	ErrTimeout = errors.New("vision request timed out")

	// ErrInvalidOutput indicates the model reply held no usable extraction.
	ErrInvalidOutput = errors.New("invalid vision output")

	// ErrRetryExhausted indicates every attempt failed for another reason.
	ErrRetryExhausted = errors.New("vision retry attempts exhausted")

	// ErrUnsupportedMedia indicates the upload is not a supported image.
	ErrUnsupportedMedia = errors.New("unsupported image type")
)
