//go:build !linux && !darwin

package daemon

import "net"

// peerCredentials is unsupported here; every peer is treated as unknown
// and rejected.
func peerCredentials(net.Conn) *PeerCredentials {
	return nil
}
