// Package events carries module lifecycle and result notifications from
// domain modules to whoever orchestrates them.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the closed set of event kinds a domain module may emit.
type Kind int

const (
	KindModuleCreated Kind = iota + 1
	KindStartsComputing
	KindEndsComputing
	KindAnalyseResult
	// KindModuleEvent is a module-specific event; Event.Name tells which.
	KindModuleEvent
)

// Wire names of the generic events.
const (
	NameModuleCreated   = "module__createModule"
	NameStartsComputing = "module__startsComputing"
	NameEndsComputing   = "module__endsComputing"
	NameAnalyseResult   = "module__onAnalyseResult"
)

func (k Kind) String() string {
	switch k {
	case KindModuleCreated:
		return "module_created"
	case KindStartsComputing:
		return "starts_computing"
	case KindEndsComputing:
		return "ends_computing"
	case KindAnalyseResult:
		return "analyse_result"
	case KindModuleEvent:
		return "module_event"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Module is the identity surface of an emitting module.
type Module interface {
	ID() string
	Name() string
}

// Target is the analysed domain as handed to the module.
type Target interface {
	Hostname() string
	String() string
}

// Event is the {module, url, result} payload shared by every module.
// Lifecycle events only carry Module.
type Event struct {
	Kind   Kind
	Name   string
	Module Module
	URL    Target
	Result any
	At     time.Time
}

// Emitter is what modules publish through.
type Emitter interface {
	Emit(ev Event)
}

func ModuleCreated(m Module) Event {
	return Event{Kind: KindModuleCreated, Name: NameModuleCreated, Module: m}
}

func StartsComputing(m Module) Event {
	return Event{Kind: KindStartsComputing, Name: NameStartsComputing, Module: m}
}

func EndsComputing(m Module) Event {
	return Event{Kind: KindEndsComputing, Name: NameEndsComputing, Module: m}
}

func AnalyseResult(m Module, url Target, result any) Event {
	return Event{Kind: KindAnalyseResult, Name: NameAnalyseResult, Module: m, URL: url, Result: result}
}

// ModuleEvent builds a module-specific event named name.
func ModuleEvent(name string, m Module, url Target, result any) Event {
	return Event{Kind: KindModuleEvent, Name: name, Module: m, URL: url, Result: result}
}

type moduleJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type eventJSON struct {
	Kind     string      `json:"kind"`
	Name     string      `json:"name"`
	Module   *moduleJSON `json:"module,omitempty"`
	URL      string      `json:"url,omitempty"`
	Hostname string      `json:"hostname,omitempty"`
	Result   any         `json:"result,omitempty"`
	At       time.Time   `json:"at"`
}

// MarshalJSON renders the event for websocket and broker consumers.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Kind:   e.Kind.String(),
		Name:   e.Name,
		Result: e.Result,
		At:     e.At,
	}
	if e.Module != nil {
		out.Module = &moduleJSON{ID: e.Module.ID(), Name: e.Module.Name()}
	}
	if e.URL != nil {
		out.URL = e.URL.String()
		out.Hostname = e.URL.Hostname()
	}
	return json.Marshal(out)
}
