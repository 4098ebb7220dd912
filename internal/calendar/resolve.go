package calendar

import (
	"context"
	"fmt"

	"richter/internal/cache"
	"richter/internal/enroll"
	"richter/internal/failure"
	appLog "richter/internal/log"
)

// cacheState is a step of cache resolution during Load.
//
//	unread ──▶ fresh
//	   │
//	   ├────▶ absent ──────────────▶ rebuilding ──▶ rebuilt
//	   │                                 ▲
//	   └────▶ corrupted ──▶ deleted ─────┘
type cacheState int

const (
	stateUnread cacheState = iota
	stateFresh
	stateAbsent
	stateCorrupted
	stateDeleted
	stateRebuilding
	stateRebuilt
)

func (s cacheState) String() string {
	switch s {
	case stateUnread:
		return "unread"
	case stateFresh:
		return "fresh"
	case stateAbsent:
		return "absent"
	case stateCorrupted:
		return "corrupted"
	case stateDeleted:
		return "deleted"
	case stateRebuilding:
		return "rebuilding"
	case stateRebuilt:
		return "rebuilt"
	default:
		return fmt.Sprintf("cacheState(%d)", int(s))
	}
}

// resolution carries the state machine's data between steps.
type resolution struct {
	state cacheState
	cache *cache.Cache
	cause error // parse error that led to stateCorrupted
	trail []cacheState
}

// resolve drives the resolution state machine until it reaches a terminal
// state (fresh or rebuilt) or fails.
func (s *Storage) resolve(ctx context.Context, b Builder, enrollments []enroll.Enrollment) (*cache.Cache, error) {
	r := &resolution{state: stateUnread}
	for {
		r.trail = append(r.trail, r.state)
		if err := s.step(ctx, b, enrollments, r); err != nil {
			appLog.Debug("cache resolution failed", "trail", r.trail)
			return nil, err
		}
		if r.state == stateFresh || r.state == stateRebuilt {
			r.trail = append(r.trail, r.state)
			appLog.Debug("cache resolved", "trail", r.trail)
			return r.cache, nil
		}
	}
}

// step performs one transition.
func (s *Storage) step(ctx context.Context, b Builder, enrollments []enroll.Enrollment, r *resolution) error {
	switch r.state {
	case stateUnread:
		c, err := s.store.Read()
		switch {
		case failure.Is(err, failure.KindCacheParse):
			r.state, r.cause = stateCorrupted, err
		case err != nil:
			return err
		case c == nil:
			r.state = stateAbsent
		default:
			r.state, r.cache = stateFresh, c
			appLog.Info("cache loaded from disk", "schools", len(c.Schools), "buckets", len(c.Entries), "built_at", c.BuiltAt)
		}

	case stateAbsent:
		appLog.Info("no cache present; rebuilding")
		r.state = stateRebuilding

	case stateCorrupted:
		appLog.Error("cache is corrupted; deleting", r.cause)
		if err := s.store.Discard(); err != nil {
			return err
		}
		r.state = stateDeleted

	case stateDeleted:
		r.state = stateRebuilding

	case stateRebuilding:
		c, err := s.rebuild(ctx, b, enrollments)
		if err != nil {
			return err
		}
		r.state, r.cache = stateRebuilt, c

	default:
		return failure.New(failure.KindInternal, "", "Resolving cache", "unexpected state "+r.state.String())
	}
	return nil
}
