package types

// CommentThread is a top-level comment with a preview of its direct replies
type CommentThread struct {
	Comment      Event   `json:"comment"`
	Replies      []Event `json:"replies"`       // direct replies, capped for preview
	ReplyCount   int     `json:"reply_count"`   // direct replies only
	TotalReplies int     `json:"total_replies"` // all descendants
}

// CommentData is the ranked set of top-level threads for a root event
type CommentData struct {
	TopLevelComments  []CommentThread `json:"top_level_comments"`
	TotalCommentCount int             `json:"total_comment_count"`
}
