package common

import (
	"errors"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module is currently paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseRegistry is the owner-controlled pause switchboard shared by every
// mutating entry point. The zero value is ready to use.
type PauseRegistry struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewPauseRegistry() *PauseRegistry {
	return &PauseRegistry{paused: make(map[string]bool)}
}

func (r *PauseRegistry) SetPaused(module string, paused bool) {
	if r == nil || module == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused == nil {
		r.paused = make(map[string]bool)
	}
	r.paused[module] = paused
}

// PauseAll flips every known module plus the global flag at once.
func (r *PauseRegistry) PauseAll(modules []string, paused bool) {
	for _, m := range modules {
		r.SetPaused(m, paused)
	}
}

func (r *PauseRegistry) IsPaused(module string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused[module]
}
