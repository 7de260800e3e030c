// Package catalog loads a service's method/event registry from an
// ini-format descriptor file, the way the teacher's EDS loader
// (gopkg.in/ini.v1) builds an ObjectDictionary from a file instead of
// requiring one hand-built in code. A catalog only describes the
// registry shape (service/instance identity, method ids and names,
// eventgroup membership, publish policy) — it carries no payload
// schema, since application payload semantics are out of scope.
package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"github.com/go-someip/someip/pkg/event"
)

// Method describes one RPC method a service exposes.
type Method struct {
	ID               uint16
	Name             string
	InterfaceVersion uint8
}

// Event describes one event or field a service publishes.
type Event struct {
	ID           uint16
	Name         string
	EventgroupID uint16
	Policy       event.Policy
	Cycle        time.Duration
	IsField      bool
}

// Service is one service's complete registry, as parsed from a
// descriptor file.
type Service struct {
	ServiceID    uint16
	InstanceID   uint16
	MajorVersion uint8
	MinorVersion uint32

	Methods []Method
	Events  []Event
}

// MethodByName looks up a method registered under name, for wiring a
// caller's Handler implementation to its catalog-assigned id.
func (s *Service) MethodByName(name string) (Method, bool) {
	for _, m := range s.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

var (
	sectionService    = regexp.MustCompile(`^(?i)service$`)
	sectionMethod     = regexp.MustCompile(`^(?i)method:([0-9A-Fa-f]+|0[xX][0-9A-Fa-f]+)$`)
	sectionEventgroup = regexp.MustCompile(`^(?i)eventgroup:([0-9A-Fa-f]+|0[xX][0-9A-Fa-f]+)$`)
	sectionEvent      = regexp.MustCompile(`^(?i)event:([0-9A-Fa-f]+|0[xX][0-9A-Fa-f]+)$`)
)

// LoadFile parses the descriptor at path. Mirrors ParseEDSFromFile:
// ini.Load accepts a filesystem path directly.
func LoadFile(path string) (*Service, error) {
	return parse(path)
}

// LoadRaw parses a descriptor already held in memory.
func LoadRaw(data []byte) (*Service, error) {
	return parse(data)
}

func parse(source any) (*Service, error) {
	f, err := ini.Load(source)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	svc := &Service{}
	haveService := false
	eventgroups := make(map[uint16]bool)

	for _, section := range f.Sections() {
		name := section.Name()

		switch {
		case sectionService.MatchString(name):
			if err := parseService(section, svc); err != nil {
				return nil, err
			}
			haveService = true

		case sectionEventgroup.MatchString(name):
			id, err := parseSectionID(sectionEventgroup, name)
			if err != nil {
				return nil, err
			}
			eventgroups[id] = true
			log.WithField("eventgroup_id", fmt.Sprintf("%#04x", id)).Debug("catalog: eventgroup declared")
		}
	}

	for _, section := range f.Sections() {
		name := section.Name()

		switch {
		case sectionMethod.MatchString(name):
			id, err := parseSectionID(sectionMethod, name)
			if err != nil {
				return nil, err
			}
			methodName := section.Key("name").String()
			if methodName == "" {
				return nil, fmt.Errorf("catalog: method %#04x: name is required", id)
			}
			interfaceVersion := section.Key("interface_version").MustUint(1)
			svc.Methods = append(svc.Methods, Method{ID: id, Name: methodName, InterfaceVersion: uint8(interfaceVersion)})
			log.WithFields(log.Fields{"method_id": fmt.Sprintf("%#04x", id), "name": methodName}).Debug("catalog: method declared")

		case sectionEvent.MatchString(name):
			ev, err := parseEvent(section, sectionEvent, name)
			if err != nil {
				return nil, err
			}
			if !eventgroups[ev.EventgroupID] {
				return nil, fmt.Errorf("catalog: event %#04x: eventgroup %#04x has no [eventgroup:...] section", ev.ID, ev.EventgroupID)
			}
			svc.Events = append(svc.Events, ev)
			log.WithFields(log.Fields{"event_id": fmt.Sprintf("%#04x", ev.ID), "policy": ev.Policy}).Debug("catalog: event declared")
		}
	}

	if !haveService {
		return nil, fmt.Errorf("catalog: descriptor has no [service] section")
	}
	return svc, nil
}

func parseService(section *ini.Section, svc *Service) error {
	serviceID, err := parseHexOrDecimal(section.Key("service_id").Value())
	if err != nil {
		return fmt.Errorf("catalog: [service] service_id: %w", err)
	}
	svc.ServiceID = uint16(serviceID)

	instanceID, err := parseHexOrDecimal(section.Key("instance_id").Value())
	if err != nil {
		return fmt.Errorf("catalog: [service] instance_id: %w", err)
	}
	svc.InstanceID = uint16(instanceID)

	if v := section.Key("major_version").Value(); v != "" {
		major, err := parseHexOrDecimal(v)
		if err != nil {
			return fmt.Errorf("catalog: [service] major_version: %w", err)
		}
		svc.MajorVersion = uint8(major)
	}
	if v := section.Key("minor_version").Value(); v != "" {
		minor, err := parseHexOrDecimal(v)
		if err != nil {
			return fmt.Errorf("catalog: [service] minor_version: %w", err)
		}
		svc.MinorVersion = uint32(minor)
	}
	return nil
}

func parseEvent(section *ini.Section, re *regexp.Regexp, sectionName string) (Event, error) {
	id, err := parseSectionID(re, sectionName)
	if err != nil {
		return Event{}, err
	}

	eventgroupID, err := parseHexOrDecimal(section.Key("eventgroup").Value())
	if err != nil {
		return Event{}, fmt.Errorf("catalog: event %#04x: eventgroup: %w", id, err)
	}

	policy, err := parsePolicy(section.Key("policy").MustString("on_change"))
	if err != nil {
		return Event{}, fmt.Errorf("catalog: event %#04x: %w", id, err)
	}

	var cycle time.Duration
	if policy == event.Periodic {
		ms := section.Key("cycle_ms").MustInt(0)
		if ms <= 0 {
			return Event{}, fmt.Errorf("catalog: event %#04x: policy=periodic requires cycle_ms > 0", id)
		}
		cycle = time.Duration(ms) * time.Millisecond
	}

	return Event{
		ID:           id,
		Name:         section.Key("name").String(),
		EventgroupID: uint16(eventgroupID),
		Policy:       policy,
		Cycle:        cycle,
		IsField:      section.Key("field").MustBool(false),
	}, nil
}

func parsePolicy(s string) (event.Policy, error) {
	switch s {
	case "periodic":
		return event.Periodic, nil
	case "on_change":
		return event.OnChange, nil
	case "on_request":
		return event.OnRequest, nil
	case "triggered":
		return event.Triggered, nil
	default:
		return 0, fmt.Errorf("unknown policy %q", s)
	}
}

func parseSectionID(re *regexp.Regexp, name string) (uint16, error) {
	m := re.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("catalog: malformed section name %q", name)
	}
	id, err := parseHexOrDecimal(m[1])
	if err != nil {
		return 0, fmt.Errorf("catalog: section %q: %w", name, err)
	}
	return uint16(id), nil
}

// parseHexOrDecimal accepts a decimal or a 0x-prefixed hex literal
// (strconv base-0 rules, so a leading 0 alone means octal).
func parseHexOrDecimal(v string) (uint64, error) {
	if v == "" {
		return 0, fmt.Errorf("value is required")
	}
	return strconv.ParseUint(v, 0, 32)
}
