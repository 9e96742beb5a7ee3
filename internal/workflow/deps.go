package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/bus"
	sysclock "github.com/AI-static/Aether/internal/clock/system"
	"github.com/AI-static/Aether/internal/content"
	sha256hash "github.com/AI-static/Aether/internal/hash/sha256"
	uuidgen "github.com/AI-static/Aether/internal/id/uuid"
	"github.com/AI-static/Aether/internal/platform"
	"github.com/AI-static/Aether/internal/task"
)

// ContentRouter is the slice of the connector router the workflows drive.
type ContentRouter interface {
	SearchAndExtract(ctx context.Context, pf platform.Platform, keyword string, limit int) ([]map[string]any, error)
	Extract(ctx context.Context, urls []string, pf platform.Platform, concurrency int) (<-chan content.ExtractionResult, error)
	Harvest(ctx context.Context, pf platform.Platform, userID string, opts content.HarvestOptions) ([]map[string]any, error)
	Publish(ctx context.Context, pf platform.Platform, req content.PublishRequest) (content.PublishReceipt, error)
}

// Deps bundles the collaborators shared by every unit. Router is required;
// Store, Bus and Blobs are required by the units that use them; the rest
// default.
type Deps struct {
	Router ContentRouter
	Store  task.Store
	Bus    bus.Subscriber
	Blobs  content.BlobStore
	Hash   content.Hasher
	Clock  content.Clock
	IDs    content.IDGenerator
	Logger *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Hash == nil {
		d.Hash = sha256hash.New()
	}
	if d.Clock == nil {
		d.Clock = sysclock.New()
	}
	if d.IDs == nil {
		d.IDs = uuidgen.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}
