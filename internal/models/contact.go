package models

// Contact holds the delivery addresses of a notification recipient.
type Contact struct {
	UserID string `json:"user_id" yaml:"user_id"`
	Name   string `json:"name" yaml:"name"`
	Email  string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone  string `json:"phone,omitempty" yaml:"phone,omitempty"`
	// NtfyTopic overrides the default topic (the user id) for in-app and email.
	NtfyTopic     string `json:"ntfy_topic,omitempty" yaml:"ntfy_topic,omitempty"`
	PagerTopicARN string `json:"pager_topic_arn,omitempty" yaml:"pager_topic_arn,omitempty"`
	VoiceTopicARN string `json:"voice_topic_arn,omitempty" yaml:"voice_topic_arn,omitempty"`
	// Roles are recipient types this contact answers for, e.g. department_head.
	Roles []RecipientType `json:"roles,omitempty" yaml:"roles,omitempty"`
}

func (c Contact) HasRole(rt RecipientType) bool {
	for _, r := range c.Roles {
		if r == rt {
			return true
		}
	}
	return false
}
