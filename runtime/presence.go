package runtime

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Presence is the process-wide set of notification connections.
// They are not bound to a room, so one lock is enough.
type Presence struct {
	mu    sync.RWMutex
	conns map[string]contract.Connection
	log   *slog.Logger
}

func NewPresence(log *slog.Logger) *Presence {
	return &Presence{conns: make(map[string]contract.Connection), log: log}
}

func (p *Presence) Add(conn contract.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.conns[conn.ID()]; ok {
		return errors.ErrAlreadyRegistered
	}
	p.conns[conn.ID()] = conn
	return nil
}

func (p *Presence) Remove(conn contract.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, conn.ID())
}

func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

func (p *Presence) CloseAll(code int, reason string) {
	p.mu.RLock()
	conns := lo.Values(p.conns)
	p.mu.RUnlock()
	for _, conn := range conns {
		if err := conn.Close(code, reason); err != nil {
			p.log.Debug("Close on shutdown", "conn_id", conn.ID(), "error", err)
		}
	}
}
