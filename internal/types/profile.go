package types

// ProfileInfo contains user profile metadata (kind 0)
type ProfileInfo struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
	About       string `json:"about,omitempty"`
	Banner      string `json:"banner,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
	Lud06       string `json:"lud06,omitempty"`
	Website     string `json:"website,omitempty"`
}

// ProfileResult is the resolved profile for a single pubkey
type ProfileResult struct {
	PubKey  string       `json:"pubkey"`
	Profile *ProfileInfo `json:"profile"`
	Event   *Event       `json:"event,omitempty"`
}
