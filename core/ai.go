package core

import "time"

// AIFile is a handle to a document uploaded to the generative AI service.
// It can be reused in prompts until it expires.
type AIFile struct {
	Name           string    `json:"name"`
	URI            string    `json:"uri"`
	MIMEType       string    `json:"mime_type"`
	DisplayName    string    `json:"display_name,omitempty"`
	ExpirationTime time.Time `json:"expiration_time"`
}

// Usable reports whether the handle is still valid at `now`, keeping `margin` for the request that is about to use it.
func (f *AIFile) Usable(now time.Time, margin time.Duration) bool {
	if f == nil || f.URI == "" {
		return false
	}
	return now.Add(margin).Before(f.ExpirationTime)
}
