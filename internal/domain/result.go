package domain

// Detail reports what happened to one channel during a dispatch.
type Detail struct {
	ChannelID string   `json:"channel_id"`
	Platform  Platform `json:"platform"`
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	Skipped   bool     `json:"skipped,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
}

// DispatchResult is the aggregate outcome of one dispatch.
type DispatchResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message,omitempty"`
	Total    int      `json:"total"`
	Sent     int      `json:"sent"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
	Filtered int      `json:"filtered"`
	Details  []Detail `json:"details"`
}
