package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/campaign-runner/internal/circuitbreaker"
	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/logging"
)

// envelope carries a revision so the two backends can be reconciled after an
// outage. Deleted marks a tombstone left in the mirror when the durable
// delete could not be applied.
type envelope struct {
	Rev     int64           `json:"rev"`
	Deleted bool            `json:"deleted,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// FallbackStore writes through a durable store and a local mirror.
//
// Put always lands in the local mirror, and in the durable store while it is
// reachable. Get reads both and returns the newer revision, repairing the
// stale side. Delete clears both, leaving a tombstone in the mirror when the
// durable store is down. Records must be JSON.
type FallbackStore struct {
	name    string
	durable StateStore
	local   StateStore
	breaker *circuitbreaker.CircuitBreaker
	now     func() time.Time
	lastRev atomic.Int64
}

// NewFallbackStore composes the two backends. durable may be nil, in which
// case the store is file-only.
func NewFallbackStore(name string, durable, local StateStore) *FallbackStore {
	fs := &FallbackStore{name: name, durable: durable, local: local, now: time.Now}
	if durable != nil {
		fs.breaker = circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
			Name:        name + "-durable",
			MaxFailures: 3,
			Timeout:     circuitbreaker.DefaultConfig(name).Timeout,
			IsFailure:   func(err error) bool { return !errors.Is(err, ErrNotFound) },
		})
	}
	return fs
}

// DurableState reports the breaker state of the durable backend
func (s *FallbackStore) DurableState() circuitbreaker.State {
	if s.breaker == nil {
		return circuitbreaker.StateOpen
	}
	return s.breaker.GetState()
}

func (s *FallbackStore) logger(ctx context.Context, key string) *logging.Logger {
	return logging.FromContext(ctx).WithFields(map[string]interface{}{
		"store": s.name,
		"key":   key,
	})
}

// nextRev returns a strictly increasing wall-clock revision
func (s *FallbackStore) nextRev() int64 {
	for {
		last := s.lastRev.Load()
		rev := s.now().UnixNano()
		if rev <= last {
			rev = last + 1
		}
		if s.lastRev.CompareAndSwap(last, rev) {
			return rev
		}
	}
}

func (s *FallbackStore) durablePut(ctx context.Context, key string, raw []byte) error {
	if s.durable == nil {
		return errNoDurable
	}
	return s.breaker.Execute(ctx, func() error { return s.durable.Put(ctx, key, raw) })
}

// Put stores the record in every backend that accepts it
func (s *FallbackStore) Put(ctx context.Context, key string, record []byte) error {
	if !json.Valid(record) {
		return apperrors.NewInvalidParameterError("record", "must be JSON")
	}
	raw, err := json.Marshal(envelope{Rev: s.nextRev(), Data: record})
	if err != nil {
		return apperrors.NewStorageError(s.name, "encode", err)
	}

	durableErr := s.durablePut(ctx, key, raw)
	if durableErr != nil && s.durable != nil && !errors.Is(durableErr, circuitbreaker.ErrCircuitOpen) {
		s.logger(ctx, key).WithError(durableErr).Warn("Durable store write failed, using local mirror")
	}

	if localErr := s.local.Put(ctx, key, raw); localErr != nil {
		s.logger(ctx, key).WithError(localErr).Error("Local mirror write failed")
		if durableErr != nil {
			return apperrors.NewStorageError(s.name, "put", errors.Join(durableErr, localErr))
		}
	}
	return nil
}

// Get returns the newest revision held by either backend
func (s *FallbackStore) Get(ctx context.Context, key string) ([]byte, error) {
	var durableEnv *envelope
	durableOK := false
	if s.durable != nil {
		var raw []byte
		err := s.breaker.Execute(ctx, func() error {
			var getErr error
			raw, getErr = s.durable.Get(ctx, key)
			return getErr
		})
		switch {
		case err == nil:
			durableOK = true
			durableEnv = s.decode(ctx, key, raw)
		case errors.Is(err, ErrNotFound):
			durableOK = true
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		default:
			s.logger(ctx, key).WithError(err).Warn("Durable store read failed, using local mirror")
		}
	}

	var localEnv *envelope
	raw, err := s.local.Get(ctx, key)
	switch {
	case err == nil:
		localEnv = s.decode(ctx, key, raw)
	case errors.Is(err, ErrNotFound):
	default:
		s.logger(ctx, key).WithError(err).Warn("Local mirror read failed")
		if !durableOK {
			return nil, err
		}
	}

	winner := newer(durableEnv, localEnv)
	if winner == nil {
		return nil, ErrNotFound
	}

	if durableOK {
		s.reconcile(ctx, key, winner, durableEnv, localEnv)
	}

	if winner.Deleted {
		return nil, ErrNotFound
	}
	return []byte(winner.Data), nil
}

// reconcile brings both backends to the winning revision. Best effort.
func (s *FallbackStore) reconcile(ctx context.Context, key string, winner, durableEnv, localEnv *envelope) {
	if winner.Deleted {
		if durableEnv != nil {
			_ = s.durable.Delete(ctx, key)
		}
		_ = s.local.Delete(ctx, key)
		return
	}

	raw, err := json.Marshal(winner)
	if err != nil {
		return
	}
	if durableEnv == nil || durableEnv.Rev < winner.Rev {
		if err := s.durable.Put(ctx, key, raw); err != nil {
			s.logger(ctx, key).WithError(err).Debug("Durable store repair failed")
		}
	}
	if localEnv == nil || localEnv.Rev < winner.Rev {
		if err := s.local.Put(ctx, key, raw); err != nil {
			s.logger(ctx, key).WithError(err).Debug("Local mirror repair failed")
		}
	}
}

// Delete removes the record from both backends
func (s *FallbackStore) Delete(ctx context.Context, key string) error {
	durableErr := errNoDurable
	if s.durable != nil {
		durableErr = s.breaker.Execute(ctx, func() error { return s.durable.Delete(ctx, key) })
		if durableErr != nil && !errors.Is(durableErr, circuitbreaker.ErrCircuitOpen) {
			s.logger(ctx, key).WithError(durableErr).Warn("Durable store delete failed, leaving tombstone")
		}
	}

	var localErr error
	if durableErr == nil || s.durable == nil {
		localErr = s.local.Delete(ctx, key)
	} else {
		// keep a tombstone so the surviving durable copy is not resurrected later
		raw, _ := json.Marshal(envelope{Rev: s.nextRev(), Deleted: true})
		localErr = s.local.Put(ctx, key, raw)
	}
	if localErr != nil {
		s.logger(ctx, key).WithError(localErr).Error("Local mirror delete failed")
		return apperrors.NewStorageError(s.name, "delete", localErr)
	}
	return nil
}

func (s *FallbackStore) decode(ctx context.Context, key string, raw []byte) *envelope {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger(ctx, key).WithError(err).Warn("Discarding undecodable record")
		return nil
	}
	return &env
}

func newer(a, b *envelope) *envelope {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Rev > a.Rev:
		return b
	default:
		return a
	}
}

var errNoDurable = errors.New("no durable store configured")
