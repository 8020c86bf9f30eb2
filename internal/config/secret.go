package config

// Secret is a string type that redacts itself when printed
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// MarshalYAML ensures secrets are redacted when marshaled to YAML
func (s Secret) MarshalYAML() (interface{}, error) {
	if s == "" {
		return "", nil
	}
	return "[REDACTED]", nil
}

// MarshalJSON ensures secrets are redacted when marshaled to JSON
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"[REDACTED]"`), nil
}

// Reveal returns the raw value for signing
func (s Secret) Reveal() string {
	return string(s)
}

// GoString ensures secrets are redacted when using %#v format
func (s Secret) GoString() string {
	if s == "" {
		return `""`
	}
	return `"[REDACTED]"`
}

// Hint shows the last four characters, e.g. "****wxyz", so an operator can
// tell stored exchange keys apart. Values of eight characters or fewer are
// fully masked.
func (s Secret) Hint() string {
	const visible = 4
	if s == "" {
		return ""
	}
	if len(s) <= 2*visible {
		return "****"
	}
	return "****" + string(s[len(s)-visible:])
}
