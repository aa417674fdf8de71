// Package router computes tier-specific storage paths and makes sure the
// target containers exist.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

const (
	SourceDir      = "source/"
	ResultDir      = "processed_result/"
	FinalResultDir = "processed/"
)

// Paths are the object keys for one document's source copy and result artifact.
type Paths struct {
	Source string `json:"source"`
	Result string `json:"result"`
}

// Router maps documents to keys under a root prefix. Route is a pure function
// of (id, tier).
type Router struct {
	root   string
	final  string
	store  storage.Store
	logger *slog.Logger

	group   singleflight.Group
	ensured sync.Map // container -> struct{}
}

// New builds a router. root and finalPrefix are normalized to end in "/"
// unless empty.
func New(store storage.Store, root, finalPrefix string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{root: dirPrefix(root), final: dirPrefix(finalPrefix), store: store, logger: logger}
}

func dirPrefix(p string) string {
	p = strings.TrimLeft(p, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// TierPrefix is the key prefix shared by every object of a tier.
func (r *Router) TierPrefix(tier constants.Tier) string {
	return r.root + string(tier) + "_confidence/"
}

func (r *Router) SourcePrefix(tier constants.Tier) string { return r.TierPrefix(tier) + SourceDir }
func (r *Router) ResultPrefix(tier constants.Tier) string { return r.TierPrefix(tier) + ResultDir }

// Route returns the keys for a document routed to tier.
func (r *Router) Route(id entity.DocumentID, tier constants.Tier) Paths {
	return Paths{
		Source: r.SourcePrefix(tier) + id.String(),
		Result: r.ResultPrefix(tier) + id.Stem + constants.ResultExt,
	}
}

// Final returns the publish destination keys for a reviewed document of
// tier. Same-stem documents of different tiers never share a key.
func (r *Router) Final(id entity.DocumentID, tier constants.Tier) Paths {
	prefix := r.final + string(tier) + "_confidence/"
	return Paths{
		Source: prefix + SourceDir + id.String(),
		Result: prefix + FinalResultDir + id.Stem + constants.ResultExt,
	}
}

// EnsureContainer creates the container if missing. Concurrent callers for
// the same name share one attempt, and a container created by someone else
// in the meantime counts as success.
func (r *Router) EnsureContainer(ctx context.Context, name string) error {
	if _, ok := r.ensured.Load(name); ok {
		return nil
	}
	_, err, _ := r.group.Do(name, func() (any, error) {
		ok, err := r.store.Exists(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			err := r.store.Create(ctx, name)
			switch {
			case errors.Is(err, storage.ErrContainerExists):
				r.logger.Debug("router.container.create_race", "container", name)
			case err != nil:
				return nil, err
			default:
				r.logger.Info("router.container.created", "container", name)
			}
		}
		r.ensured.Store(name, struct{}{})
		return nil, nil
	})
	return err
}
