package types

// EmojiReaction groups the reactions to an event that used the same emoji
type EmojiReaction struct {
	Emoji       string   `json:"emoji"`
	Count       int      `json:"count"`
	UserReacted bool     `json:"user_reacted"`
	Users       []string `json:"users"`
}

// EmojiReactionGroup holds every emoji reaction to a single event
type EmojiReactionGroup struct {
	EventID    string          `json:"event_id"`
	Reactions  []EmojiReaction `json:"reactions"`
	TotalCount int             `json:"total_count"`
}

// Find returns the reaction entry for emoji, or nil
func (g *EmojiReactionGroup) Find(emoji string) *EmojiReaction {
	for i := range g.Reactions {
		if g.Reactions[i].Emoji == emoji {
			return &g.Reactions[i]
		}
	}
	return nil
}
