package types

// Room is a NIP-28 public chat channel parsed from a kind 40 event
type Room struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Picture      string     `json:"picture,omitempty"`
	Creator      string     `json:"creator"`
	CreatedAt    int64      `json:"created_at"`
	MessageCount int        `json:"message_count"`
	LastActivity int64      `json:"last_activity"`
	Tags         [][]string `json:"tags"`
}
