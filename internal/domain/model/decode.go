package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrNotObject is returned when a candidate is not a JSON object.
var ErrNotObject = errors.New("candidate is not a JSON object")

// UnmarshalJSON decodes a search result leniently. Peers report whatever
// their client knows: unknown keys are ignored, and a known field that does
// not parse (a non-numeric bitrate, a negative size, a nested object) is left
// at its zero value. Numbers may be fractional or quoted; "320 kbps" reads as
// 320. Only a document that is not an object fails.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return ErrNotObject
	}

	*c = Candidate{
		Peer:        looseString(fields["peer"]),
		Filename:    looseString(fields["filename"]),
		Extension:   looseString(fields["extension"]),
		SizeBytes:   looseInt(fields["size_bytes"], math.MaxInt64),
		BitrateKbps: int(looseInt(fields["bitrate_kbps"], math.MaxInt32)),
		DurationSec: int(looseInt(fields["duration_sec"], math.MaxInt32)),
	}
	return nil
}

// HasIdentity reports whether the candidate names a peer and a file, the
// minimum a transfer client needs to download it.
func (c Candidate) HasIdentity() bool { //nolint:gocritic // hugeParam: candidates are values
	return strings.TrimSpace(c.Peer) != "" && strings.TrimSpace(c.Filename) != ""
}

// looseString accepts a JSON string or the literal text of a number.
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// looseInt accepts a JSON number or a string starting with one, truncating
// fractions. Negative, oversized or unparsable values read as 0.
func looseInt(raw json.RawMessage, limit int64) int64 {
	if len(raw) == 0 {
		return 0
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0
		}
		text = n.String()
	}
	text = strings.TrimSpace(text)
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		f, err = strconv.ParseFloat(leadingNumber(text), 64)
	}
	if err != nil || math.IsNaN(f) || f < 0 || f >= float64(limit) {
		return 0
	}
	return int64(f)
}

// leadingNumber returns the numeric prefix of s ("320kbps" -> "320").
func leadingNumber(s string) string {
	end := 0
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			end = i + 1
		case r == '.' && !dot:
			dot = true
		case (r == '-' || r == '+') && i == 0:
		default:
			return s[:end]
		}
	}
	return s[:end]
}
