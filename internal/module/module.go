// Package module defines the contract between domain analysis modules and
// the host that schedules them.
package module

import (
	"context"

	"github.com/raysh454/webaudit/internal/events"
	"github.com/raysh454/webaudit/internal/logging"
	"github.com/raysh454/webaudit/internal/storage"
	"github.com/raysh454/webaudit/internal/webclient"
)

// DomainModule analyses one target domain per AnalyseDomain call.
//
// The host calls Init once, then AnalyseDomain any number of times
// (possibly concurrently for different targets) and Finish once after every
// AnalyseDomain call has returned. Calling AnalyseDomain after Finish is a
// caller error.
type DomainModule interface {
	ID() string
	Name() string

	Init(ctx context.Context, mc *Context) error

	// AnalyseDomain never panics and never returns an error; failures are
	// described by the Outcome.
	AnalyseDomain(ctx context.Context, target Target) Outcome

	Finish() error
}

// Config decodes the configuration section of one module into out.
// Keys that are absent leave out untouched.
type Config interface {
	Decode(moduleID string, out any) error
}

// Context is what the host hands to a module at Init. Every field is
// optional. Modules treat it as read-only.
type Context struct {
	Config  Config
	Logger  logging.Logger
	Bus     events.Emitter
	Storage storage.Store

	// HTTP is a shared outbound client. Modules build their own when nil.
	HTTP webclient.WebClient
}

// Log returns the logger, or a no-op logger when none was provided.
func (c *Context) Log() logging.Logger {
	if c == nil || c.Logger == nil {
		return logging.Nop{}
	}
	return c.Logger
}

// Emit publishes ev when a bus is configured.
func (c *Context) Emit(ev events.Event) {
	if c == nil || c.Bus == nil {
		return
	}
	c.Bus.Emit(ev)
}

// HasStorage reports whether results should be persisted.
func (c *Context) HasStorage() bool {
	return c != nil && c.Storage != nil
}

// DecodeConfig fills out from the module's section when a Config is set.
func (c *Context) DecodeConfig(moduleID string, out any) error {
	if c == nil || c.Config == nil {
		return nil
	}
	return c.Config.Decode(moduleID, out)
}
