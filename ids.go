package someip

import "fmt"

// ServiceIdSD and MethodIdSD identify the reserved Service Discovery
// message: service_id = 0xFFFF, method_id = 0x8100.
const (
	ServiceIdSD uint16 = 0xFFFF
	MethodIdSD  uint16 = 0x8100
	ClientIdSD  uint16 = 0x0000
)

// MessageId identifies a method or event within a service, (service_id,
// method_id). service_id = 0xFFFF is reserved for Service Discovery.
type MessageId struct {
	ServiceID uint16
	MethodID  uint16
}

func (id MessageId) IsServiceDiscovery() bool {
	return id.ServiceID == ServiceIdSD && id.MethodID == MethodIdSD
}

func (id MessageId) String() string {
	return fmt.Sprintf("%#04x/%#04x", id.ServiceID, id.MethodID)
}

// RequestId correlates a request with its response, (client_id,
// session_id). session_id == 0 denotes "no session" on the wire, and is
// only valid for fire-and-forget (REQUEST_NO_RETURN) traffic.
type RequestId struct {
	ClientID  uint16
	SessionID uint16
}

func (id RequestId) String() string {
	return fmt.Sprintf("client=%#04x session=%#04x", id.ClientID, id.SessionID)
}

// ReassemblyKey identifies one logical TP transfer. The session_id
// carried in the SOME/IP header is kept identical across every segment
// of one logical message, so together with (service_id, method_id,
// client_id) it uniquely keys a reassembly buffer.
type ReassemblyKey struct {
	ServiceID uint16
	MethodID  uint16
	ClientID  uint16
	SessionID uint16
}

func (k ReassemblyKey) String() string {
	return fmt.Sprintf("%#04x/%#04x client=%#04x session=%#04x", k.ServiceID, k.MethodID, k.ClientID, k.SessionID)
}
