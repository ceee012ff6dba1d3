package notifications

// Collection names the docstore collection backing notification records.
const Collection = "notifications"

// Notification is the immutable delivery record written once per send
// target. ChannelID is a union-typed addressing field: for channel sends it
// holds the target channel id, for direct sends it holds the target user
// id. History reads resolve both through the same attribute.
type Notification struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	ChannelID string `json:"channel_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	SentBy    string `json:"sent_by"`
	SentAt    string `json:"sent_at"`
}

// ChannelSend describes one channel-addressed send request.
type ChannelSend struct {
	TenantID           string
	ChannelIDs         []string
	IncludeDescendants bool
	Title              string
	Body               string
	Sender             string
	// Persist controls whether delivery records are written. Automated
	// senders such as the heartbeat loop opt out.
	Persist bool
}

// DirectSend describes a send addressed to a single user.
type DirectSend struct {
	TenantID string
	UserID   string
	Title    string
	Body     string
	Sender   string
}
