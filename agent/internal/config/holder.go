package config

import "sync/atomic"

// Holder publishes the current configuration snapshot. Readers call Load once
// per unit of work and treat the result as immutable; the watcher replaces the
// whole snapshot with Store, so a reader never observes a half-applied reload.
type Holder struct {
	ptr atomic.Pointer[Config]
}

// NewHolder returns a Holder publishing cfg.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.ptr.Store(cfg)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Config { return h.ptr.Load() }

// Store replaces the current snapshot.
func (h *Holder) Store(cfg *Config) { h.ptr.Store(cfg) }
