package domain

import "time"

// VoiceAsset is a named, provider-scoped reference to an uploaded voice that
// later generation requests can use. A voice with an empty UserID is a system
// voice visible to everyone. Assets are immutable once created.
type VoiceAsset struct {
	ID         string
	UserID     string
	Service    string
	VoiceKey   string
	Name       string
	StorageKey string
	CreatedAt  time.Time
}

// IsSystem reports whether the voice is platform-provided rather than
// user-uploaded.
func (v VoiceAsset) IsSystem() bool {
	return v.UserID == ""
}
