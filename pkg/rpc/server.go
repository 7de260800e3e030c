package rpc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/transport"
)

// Handler serves one method. It returns the response payload on
// success, or a HandlerError (mapped to a wire ReturnCode) on
// failure. Any other error value maps to E_NOT_OK.
type Handler func(req someip.Message) ([]byte, error)

// Server dispatches inbound REQUEST/REQUEST_NO_RETURN messages for
// one service id to registered per-method Handlers, generalizing the
// teacher's SDO server (a fixed dispatch of upload/download against
// one object dictionary) to an arbitrary method registry.
type Server struct {
	serviceID uint16
	transport *transport.Manager
	logger    *slog.Logger

	mu               sync.Mutex
	handlers         map[uint16]Handler
	interfaceVersion map[uint16]uint8
}

// NewServer returns a Server answering for serviceID over tm. A
// zero-value logger falls back to slog.Default().
func NewServer(serviceID uint16, tm *transport.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		serviceID:        serviceID,
		transport:        tm,
		logger:           logger.With("component", "rpc_server", "service_id", serviceID),
		handlers:         make(map[uint16]Handler),
		interfaceVersion: make(map[uint16]uint8),
	}
}

// Register installs h for methodID, expecting every request for it to
// carry interfaceVersion in its header (spec §4.6: a mismatch is
// answered with E_WRONG_INTERFACE_VERSION instead of being dispatched).
// Registration is idempotent: a second Register for the same methodID
// is rejected.
func (s *Server) Register(methodID uint16, interfaceVersion uint8, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[methodID]; exists {
		return fmt.Errorf("rpc: method %#04x: %w", methodID, someip.ErrMethodExists)
	}
	s.handlers[methodID] = h
	s.interfaceVersion[methodID] = interfaceVersion
	return nil
}

// Unregister removes methodID's handler, if any.
func (s *Server) Unregister(methodID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, methodID)
	delete(s.interfaceVersion, methodID)
}

// Handle dispatches one inbound request message and sends the
// resulting response (if any) to peer. It is meant to be wired as a
// transport.Manager subscriber for s.serviceID.
func (s *Server) Handle(req someip.Message, peer transport.Endpoint) {
	if req.Type != someip.MessageTypeRequest && req.Type != someip.MessageTypeRequestNoReturn {
		return
	}

	s.mu.Lock()
	handler, ok := s.handlers[req.ID.MethodID]
	expectedVersion, versionKnown := s.interfaceVersion[req.ID.MethodID]
	s.mu.Unlock()

	noReturn := req.Type == someip.MessageTypeRequestNoReturn

	if !ok {
		s.logger.Debug("unknown method", "method_id", req.ID.MethodID)
		if !noReturn {
			s.respond(req, peer, someip.EUnknownMethod, nil)
		}
		return
	}

	if versionKnown && req.InterfaceVersion != expectedVersion {
		s.logger.Debug("wrong interface version", "method_id", req.ID.MethodID,
			"expected", expectedVersion, "got", req.InterfaceVersion)
		if !noReturn {
			s.respond(req, peer, someip.EWrongInterfaceVersion, nil)
		}
		return
	}

	payload, err := handler(req)
	if noReturn {
		if err != nil {
			s.logger.Warn("handler error on REQUEST_NO_RETURN, no response sent", "method_id", req.ID.MethodID, "err", err)
		}
		return
	}

	if err != nil {
		s.respond(req, peer, returnCodeForHandlerError(err), nil)
		return
	}
	s.respond(req, peer, someip.EOk, payload)
}

func (s *Server) respond(req someip.Message, peer transport.Endpoint, rc someip.ReturnCode, payload []byte) {
	resp := someip.NewResponse(req, rc, payload)
	if err := s.transport.Send(resp, peer); err != nil {
		s.logger.Warn("failed to send response", "peer", peer, "err", err)
	}
}
