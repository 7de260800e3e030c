// Package someip implements the core wire-level types of the SOME/IP
// service-oriented middleware protocol: message identifiers, request
// correlation identifiers, message types and return codes.
//
// Higher level subsystems (codec, transport, RPC correlation, TP
// segmentation, service discovery, event distribution) live in the
// pkg/ sub-packages and are built on top of these root-level types.
package someip
