package funcache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/funcache/funcache/backend"
)

// ClearRequest scopes Registry.Clear. Zero fields widen the scope: the
// zero request clears every region the registry knows about.
type ClearRequest struct {
	// Owner limits clearing to one owner's regions.
	Owner string

	// Kind limits clearing to regions of one backend kind.
	Kind backend.Kind

	// TTL pins a single region per owner. It requires Kind; use
	// TTL(TTLDynamic) to address dynamic regions.
	TTL *time.Duration

	// Tag removes only entries carrying the tag instead of whole
	// regions.
	Tag string
}

// TTL returns a pointer for ClearRequest.TTL.
func TTL(d time.Duration) *time.Duration {
	return &d
}

// matches reports whether a region falls inside the request's scope.
func (req ClearRequest) matches(owner string, kind backend.Kind, ttl time.Duration) bool {
	if req.Owner != "" && owner != req.Owner {
		return false
	}
	if req.Kind.Valid() && kind != req.Kind {
		return false
	}
	if req.TTL != nil && ttl != *req.TTL {
		return false
	}
	return true
}

// Clear applies req with a background context.
func (r *Registry) Clear(req ClearRequest) (int, error) {
	return r.ClearContext(context.Background(), req)
}

// ClearContext removes cached entries in req's scope across all
// matching regions in parallel and returns how many were removed.
// Persistent regions of registered functions are opened first, so
// entries written by earlier processes are cleared even when nothing
// has touched them yet. Counters survive; they move only through
// ResetStats.
//
// Two scope combinations are rejected with ErrAmbiguousClear rather
// than guessed at: a TTL without a kind, and a kind with a tag but no
// TTL.
func (r *Registry) ClearContext(ctx context.Context, req ClearRequest) (int, error) {
	if req.Kind != 0 && !req.Kind.Valid() {
		return 0, fmt.Errorf("funcache: invalid backend kind %d", req.Kind)
	}
	hasKind := req.Kind.Valid()
	hasTTL := req.TTL != nil
	hasTag := req.Tag != ""
	if hasTTL && !hasKind {
		return 0, fmt.Errorf("%w: a TTL scope requires a backend kind", ErrAmbiguousClear)
	}
	if hasKind && hasTag && !hasTTL {
		return 0, fmt.Errorf("%w: kind plus tag needs a TTL to name a region", ErrAmbiguousClear)
	}
	if err := r.materialize(req); err != nil {
		return 0, err
	}
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range r.manager.Instances() {
		if !req.matches(inst.Owner, inst.Kind, inst.TTL) {
			continue
		}
		b := inst.Backend
		g.Go(func() error {
			n, err := b.Clear(gctx, req.Tag)
			total.Add(int64(n))
			return err
		})
	}
	err := g.Wait()
	return int(total.Load()), err
}

// materialize opens the persistent regions of registered functions
// falling inside the request's scope, so their stored entries are
// visible to the clear. Functions without a pinned kind follow the
// owner's configuration as of now.
func (r *Registry) materialize(req ClearRequest) error {
	for _, meta := range r.registered() {
		cfg := r.ConfigOf(meta.owner)
		kind := meta.kind
		if !kind.Valid() {
			kind = cfg.Backend
		}
		if kind != backend.File && kind != backend.Redis {
			continue
		}
		if !req.matches(meta.owner, kind, meta.ttl) {
			continue
		}
		if _, err := r.manager.Get(meta.owner, kind, meta.ttl, r.settingsFor(meta.owner, cfg)); err != nil {
			return err
		}
	}
	return nil
}
