// Package notify dispatches job lifecycle notifications to configured
// channels: chat webhooks and native desktop notifications. Delivery is
// best effort; failures are logged and never reach the execution path.
package notify

// ChannelType identifies a notification delivery mechanism.
type ChannelType string

const (
	ChannelSlack   ChannelType = "slack"
	ChannelDiscord ChannelType = "discord"
	ChannelNative  ChannelType = "native"
)

// IsValidChannelType returns true for a known channel type.
func IsValidChannelType(s string) bool {
	switch ChannelType(s) {
	case ChannelSlack, ChannelDiscord, ChannelNative:
		return true
	default:
		return false
	}
}

// Channel is one configured notification destination.
type Channel struct {
	Name       string      `json:"name"`
	Type       ChannelType `json:"type"`
	WebhookURL string      `json:"webhookUrl,omitempty"` // slack and discord
	Enabled    bool        `json:"enabled"`
}

// Event selects which run outcomes a rule fires on.
type Event string

const (
	EventSuccess Event = "success"
	EventFailure Event = "failure"
	EventAll     Event = "all"
)

// Filter narrows a rule to a subset of jobs. Empty fields match
// everything.
type Filter struct {
	Category string `json:"category,omitempty"`
	JobID    string `json:"jobId,omitempty"`
}

// Rule routes run outcomes to channels.
type Rule struct {
	Event    Event    `json:"event"`
	Channels []string `json:"channels"`
	Filter   *Filter  `json:"filter,omitempty"`
}

// matches reports whether the rule applies to the given outcome.
func (r Rule) matches(event Event, jobID, category string) bool {
	if r.Event != EventAll && r.Event != event {
		return false
	}
	if r.Filter == nil {
		return true
	}
	if r.Filter.JobID != "" && r.Filter.JobID != jobID {
		return false
	}
	if r.Filter.Category != "" && r.Filter.Category != category {
		return false
	}
	return true
}
