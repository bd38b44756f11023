package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" or plain second
// counts decode correctly.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if errDecode := value.Decode(&seconds); errDecode == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var raw string
	if errDecode := value.Decode(&raw); errDecode != nil {
		return fmt.Errorf("config: invalid duration value on line %d", value.Line)
	}
	parsed, errParse := time.ParseDuration(strings.TrimSpace(raw))
	if errParse != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, errParse)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
