package pipeline

import (
	"context"

	"pdf2audio/internal/model"
)

// ProgressFunc receives conversion progress percentages. Implementations may
// be called zero or more times before Process returns.
type ProgressFunc func(percent int)

// Pipeline is the narrow surface of the PDF-to-audio conversion service.
type Pipeline interface {
	Process(ctx context.Context, source []byte, opts model.JobOptions, onProgress ProgressFunc) ([]byte, error)
}
