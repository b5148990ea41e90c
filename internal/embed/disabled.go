package embed

import (
	"context"

	"github.com/quillmind/memoryd/internal/errs"
	"github.com/quillmind/memoryd/internal/model"
)

// Disabled is the embedder used when no provider is configured. Every call
// is a Permanent error, so callers in "sync"/"similarity" paths fail
// immediately instead of appearing to hang; addMemory in "async"/"disabled"
// modes never calls it at all.
type Disabled struct{}

var _ Embedder = Disabled{}

func (Disabled) Embed(_ context.Context, _ string) (model.Vector, error) {
	return nil, &errs.PermanentError{Message: "no embedding provider configured"}
}

func (Disabled) EmbedTexts(_ context.Context, texts []string) ([]model.Vector, error) {
	return nil, &errs.PermanentError{Message: "no embedding provider configured"}
}

func (Disabled) Dimension() int { return 0 }

func (Disabled) ModelName() string { return "disabled" }
