// Package reconcile pulls remote collections and merges them into the
// local store so the store mirrors the remote state of the signed-in user.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/petmem/internal/actor"
	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/events"
	"github.com/and161185/petmem/internal/metrics"
	"github.com/and161185/petmem/internal/model"
	"github.com/and161185/petmem/internal/repository"
	"github.com/and161185/petmem/internal/session"
)

// Entity kinds in reconciliation order.
const (
	KindPets    = "pets"
	KindVideos  = "memorial_videos"
	KindLetters = "letters"
)

// Remote fetches whole collections of the token's owner (*api.Collections).
type Remote interface {
	Pets(ctx context.Context, token string) ([]model.Pet, error)
	Videos(ctx context.Context, token string) ([]model.MemorialVideo, error)
	Letters(ctx context.Context, token string) ([]model.Letter, error)
}

// Sessions exposes the current session (*session.Manager).
type Sessions interface {
	Current() (*model.Session, session.Lease, bool)
}

// KindReport is the outcome for one entity kind. Err is set when the kind
// was skipped; the local rows of that kind are then untouched.
type KindReport struct {
	Kind     string
	Inserted int
	Updated  int
	Deleted  int
	// Ignored counts remote rows owned by another user.
	Ignored int
	Err     error
}

// Report is the outcome of one SyncAll pass.
type Report struct {
	UserID uuid.UUID
	// Wiped is set when the pass started by clearing the previous session's rows.
	Wiped bool
	Kinds []KindReport
}

// Failed lists the kinds that were skipped.
func (r Report) Failed() []string {
	var out []string
	for _, k := range r.Kinds {
		if k.Err != nil {
			out = append(out, k.Kind)
		}
	}
	return out
}

// Engine reconciles the local store with the remote collections.
type Engine struct {
	store    repository.Store
	remote   Remote
	sessions Sessions
	loop     *actor.Loop
	bus      *events.Bus
	log      *zap.Logger
	m        *metrics.Metrics

	// owned by the loop
	wipedGen uint64
	wiped    bool
}

// New creates an Engine.
func New(store repository.Store, remote Remote, sessions Sessions, loop *actor.Loop, bus *events.Bus, log *zap.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, remote: remote, sessions: sessions, loop: loop, bus: bus, log: log, m: m}
}

// SyncAll reconciles pets, videos and letters of userID in that order.
// A failing kind is reported in its KindReport and does not stop the pass.
// The error is non-nil only when there is no matching live session.
func (e *Engine) SyncAll(ctx context.Context, userID uuid.UUID) (Report, error) {
	rep := Report{UserID: userID}

	s, lease, ok := e.sessions.Current()
	if !ok {
		return rep, errs.ErrNotLoggedIn
	}
	if s.UserID != userID {
		return rep, fmt.Errorf("sync for %s while signed in as %s: %w", userID, s.UserID, errs.ErrNotLoggedIn)
	}

	wiped, err := e.wipeOnce(ctx, lease)
	if err != nil {
		return rep, err
	}
	rep.Wiped = wiped

	steps := []func() KindReport{
		func() KindReport { return syncKind(ctx, e, lease, KindPets, e.remote.Pets, e.store.Pets()) },
		func() KindReport { return syncKind(ctx, e, lease, KindVideos, e.remote.Videos, e.store.Videos()) },
		func() KindReport { return syncKind(ctx, e, lease, KindLetters, e.remote.Letters, e.store.Letters()) },
	}
	for _, step := range steps {
		kr := step()
		if errors.Is(kr.Err, errs.ErrSuperseded) || errors.Is(kr.Err, errs.ErrNotLoggedIn) {
			return rep, kr.Err
		}
		rep.Kinds = append(rep.Kinds, kr)
	}

	e.log.Info("sync completed",
		zap.String("user_id", userID.String()),
		zap.Bool("wiped", rep.Wiped),
		zap.Strings("failed", rep.Failed()),
	)
	e.bus.Publish(events.Event{Kind: events.SyncCompleted, UserID: userID, Failed: rep.Failed()})
	return rep, nil
}

// wipeOnce clears synced rows and the cart of every user before the first
// pass of each session generation.
func (e *Engine) wipeOnce(ctx context.Context, lease session.Lease) (bool, error) {
	wiped := false
	err := e.loop.Do(ctx, func(ctx context.Context) error {
		if _, err := lease.Token(); err != nil {
			return err
		}
		if e.wiped && e.wipedGen == lease.Generation() {
			return nil
		}
		if err := e.store.WipeForLogin(ctx); err != nil {
			return fmt.Errorf("wipe before first sync: %w", err)
		}
		e.wiped, e.wipedGen, wiped = true, lease.Generation(), true
		return nil
	})
	return wiped, err
}

func syncKind[T model.Record[T]](
	ctx context.Context,
	e *Engine,
	lease session.Lease,
	kind string,
	fetch func(context.Context, string) ([]T, error),
	repo repository.EntityRepository[T],
) KindReport {
	kr := KindReport{Kind: kind}
	userID := lease.UserID()

	token, err := lease.Token()
	if err != nil {
		kr.Err = err
		return kr
	}

	// network stays off the loop
	remote, err := fetch(ctx, token)
	if err != nil {
		e.log.Warn("fetch failed, keeping local rows",
			zap.String("kind", kind), zap.String("user_id", userID.String()), zap.Error(err))
		e.m.SyncFailed(kind)
		kr.Err = fmt.Errorf("fetch %s: %w", kind, err)
		return kr
	}

	err = e.loop.Do(ctx, func(ctx context.Context) error {
		if _, err := lease.Token(); err != nil {
			return err
		}
		local, err := repo.ListByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("list local %s: %w", kind, err)
		}
		cs, ignored := plan(userID, local, remote)
		kr.Ignored = ignored
		if err := repo.ApplyChanges(ctx, userID, cs); err != nil {
			return fmt.Errorf("apply %s: %w", kind, err)
		}
		kr.Inserted, kr.Updated, kr.Deleted = len(cs.Inserts), len(cs.Updates), len(cs.Deletes)
		return nil
	})
	if err != nil {
		if !errors.Is(err, errs.ErrSuperseded) && !errors.Is(err, errs.ErrNotLoggedIn) {
			e.log.Warn("reconcile failed", zap.String("kind", kind), zap.Error(err))
			e.m.SyncFailed(kind)
		}
		kr.Err = err
		kr.Inserted, kr.Updated, kr.Deleted = 0, 0, 0
		return kr
	}

	if kr.Ignored > 0 {
		e.log.Warn("ignored rows of another user", zap.String("kind", kind), zap.Int("count", kr.Ignored))
	}
	e.m.SyncApplied(kind, kr.Inserted, kr.Updated, kr.Deleted)
	return kr
}

// plan computes the changes turning local into remote. Local rows missing
// remotely are deleted, differing rows are overwritten with a bumped local
// revision and new rows are inserted with their remote IDs.
func plan[T model.Record[T]](userID uuid.UUID, local, remote []T) (cs repository.ChangeSet[T], ignored int) {
	byID := make(map[uuid.UUID]T, len(remote))
	order := make([]uuid.UUID, 0, len(remote))
	for _, r := range remote {
		if r.Owner() != userID {
			ignored++
			continue
		}
		if _, dup := byID[r.Key()]; !dup {
			order = append(order, r.Key())
		}
		byID[r.Key()] = r
	}

	present := make(map[uuid.UUID]struct{}, len(local))
	for _, l := range local {
		present[l.Key()] = struct{}{}
		r, ok := byID[l.Key()]
		switch {
		case !ok:
			cs.Deletes = append(cs.Deletes, l.Key())
		case !l.SameFields(r):
			cs.Updates = append(cs.Updates, r.WithLocalRev(l.Rev()+1))
		}
	}
	for _, id := range order {
		if _, ok := present[id]; !ok {
			cs.Inserts = append(cs.Inserts, byID[id].WithLocalRev(0))
		}
	}
	return cs, ignored
}
