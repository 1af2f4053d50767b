package credential

import "encoding/json"

const redacted = "******"

// Secret holds a credential value. Every printing path renders it redacted;
// only Reveal returns the raw value.
type Secret struct {
	value string
}

func NewSecret(v string) Secret {
	return Secret{value: v}
}

func (s Secret) Reveal() string {
	return s.value
}

func (s Secret) IsZero() bool {
	return s.value == ""
}

func (s Secret) String() string {
	if s.value == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return s.String()
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s Secret) MarshalYAML() (any, error) {
	return s.String(), nil
}
