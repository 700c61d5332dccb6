package types

// RelayList represents a user's NIP-65 relay list
type RelayList struct {
	Read  []string
	Write []string
}

// SocketState mirrors the lifecycle of a relay websocket
type SocketState string

const (
	SocketConnecting SocketState = "connecting"
	SocketOpen       SocketState = "open"
	SocketClosing    SocketState = "closing"
	SocketClosed     SocketState = "closed"
)

// RelayStatus reflects the live socket state of a pooled relay connection
type RelayStatus struct {
	URL       string      `json:"url"`
	Status    SocketState `json:"status"`
	Connected bool        `json:"connected"`
}

// RelayInfo is the subset of a NIP-11 relay information document we use
type RelayInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Software      string `json:"software"`
	Version       string `json:"version"`
	SupportedNIPs []int  `json:"supported_nips"`
}

// Supports reports whether the relay advertises the given NIP
func (r *RelayInfo) Supports(nip int) bool {
	if r == nil {
		return false
	}
	for _, n := range r.SupportedNIPs {
		if n == nip {
			return true
		}
	}
	return false
}
