package catalog

import (
	"fmt"

	"github.com/go-someip/someip/pkg/event"
	"github.com/go-someip/someip/pkg/rpc"
)

// ApplyRPC registers every catalog method against server, looking up
// each method's implementation in handlers by name. It is an error for
// the catalog to name a method missing from handlers; handlers entries
// not named by the catalog are ignored.
func (s *Service) ApplyRPC(server *rpc.Server, handlers map[string]rpc.Handler) error {
	for _, m := range s.Methods {
		h, ok := handlers[m.Name]
		if !ok {
			return fmt.Errorf("catalog: method %q (%#04x) has no handler", m.Name, m.ID)
		}
		if err := server.Register(m.ID, m.InterfaceVersion, h); err != nil {
			return fmt.Errorf("catalog: registering method %q (%#04x): %w", m.Name, m.ID, err)
		}
	}
	return nil
}

// ApplyEvents registers every catalog event/field against bus. A
// periodic event must have a source in sources, keyed by name, and is
// additionally wired via RegisterPeriodic; fields and non-periodic
// events need no source, since their values arrive via bus.Publish at
// the application's own cadence.
func (s *Service) ApplyEvents(bus *event.Bus, sources map[string]func() []byte) error {
	for _, e := range s.Events {
		if err := bus.RegisterEvent(e.ID, e.EventgroupID, e.Policy, e.IsField); err != nil {
			return fmt.Errorf("catalog: registering event %q (%#04x): %w", e.Name, e.ID, err)
		}
		if e.Policy != event.Periodic {
			continue
		}
		source, ok := sources[e.Name]
		if !ok {
			return fmt.Errorf("catalog: periodic event %q (%#04x) has no source", e.Name, e.ID)
		}
		if err := bus.RegisterPeriodic(e.ID, e.Cycle, source); err != nil {
			return fmt.Errorf("catalog: registering periodic event %q (%#04x): %w", e.Name, e.ID, err)
		}
	}
	return nil
}
