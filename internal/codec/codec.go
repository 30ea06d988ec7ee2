package codec

import (
	"encoding/json"
	"fmt"
)

// Format selects the wire form of an observation.
type Format string

const (
	FormatVerbose Format = "verbose"
	FormatCompact Format = "compact"
)

// ParseFormat maps a request string to a Format. Empty selects verbose.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", string(FormatVerbose):
		return FormatVerbose, nil
	case string(FormatCompact):
		return FormatCompact, nil
	}
	return "", fmt.Errorf("unknown observation format %q", s)
}

// Encode renders an observation in the requested wire form. Verbose is
// JSON; compact is the binary frame behind URL-safe base64.
func Encode(o *Observation, f Format) (string, error) {
	switch f {
	case FormatVerbose:
		data, err := json.Marshal(o)
		if err != nil {
			return "", fmt.Errorf("encode verbose observation: %w", err)
		}
		return string(data), nil
	case FormatCompact:
		return encodeCompact(o)
	}
	return "", fmt.Errorf("unknown observation format %q", f)
}

// Decode restores an observation from its wire form.
func Decode(frame string, f Format) (*Observation, error) {
	switch f {
	case FormatVerbose:
		o := &Observation{}
		if err := json.Unmarshal([]byte(frame), o); err != nil {
			return nil, fmt.Errorf("decode verbose observation: %w", err)
		}
		return o, nil
	case FormatCompact:
		return decodeCompact(frame)
	}
	return nil, fmt.Errorf("unknown observation format %q", f)
}
