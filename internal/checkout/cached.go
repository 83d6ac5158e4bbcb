package checkout

import (
	"context"
	"time"

	"crate/internal/cache"
)

// CachedProcessor remembers sessions that reached a final state so repeated
// visits to the return URL do not call the processor again. Open sessions
// are always fetched fresh.
type CachedProcessor struct {
	inner    Processor
	sessions *cache.MemoryCache[ProcessorSession]
}

// NewCachedProcessor wraps inner with a cache of final sessions kept for ttl.
func NewCachedProcessor(inner Processor, ttl time.Duration) *CachedProcessor {
	return &CachedProcessor{
		inner:    inner,
		sessions: cache.NewMemoryCache[ProcessorSession](ttl),
	}
}

func (p *CachedProcessor) CreateSession(ctx context.Context, req *SessionRequest) (*ProcessorSession, error) {
	return p.inner.CreateSession(ctx, req)
}

func (p *CachedProcessor) GetSession(ctx context.Context, id string) (*ProcessorSession, error) {
	if cached, ok := p.sessions.Get(id); ok {
		return &cached, nil
	}

	ps, err := p.inner.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if final(ps) {
		p.sessions.Set(id, *ps)
	}
	return ps, nil
}

// Close stops the cache cleanup loop.
func (p *CachedProcessor) Close() {
	p.sessions.Close()
}

func final(ps *ProcessorSession) bool {
	switch ps.State() {
	case StateConfirmed, StateAbandoned:
		return true
	default:
		return false
	}
}
