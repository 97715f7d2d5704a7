package voice

import "time"

// Kind distinguishes seeded voices from runtime-cloned ones.
type Kind string

const (
	KindBuiltIn Kind = "built-in"
	KindCloned  Kind = "cloned"
)

// Entry is one resolvable voice. Built-in entries are seeded at process start
// and immutable; cloned entries are created through Registry.RegisterCloned
// and live until explicitly deleted.
type Entry struct {
	Name        string    `json:"name"`
	Kind        Kind      `json:"kind"`
	SpeakerRef  string    `json:"speaker_ref"`
	Language    string    `json:"language,omitempty"`
	Description string    `json:"description,omitempty"`
	SamplePath  string    `json:"sample_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsBuiltIn reports whether the entry was seeded at startup.
func (e Entry) IsBuiltIn() bool {
	return e.Kind == KindBuiltIn
}
