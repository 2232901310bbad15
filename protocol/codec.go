package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// headerScanLines bounds how many leading lines ParseHeader inspects,
// per §4.1 ("scans only the leading lines, bounded at 5").
const headerScanLines = 5

// Header is the fast-path result of ParseHeader: just enough to route a
// packet to the reliability layer without decoding the full payload.
type Header struct {
	Type           MessageType
	SequenceNumber *uint32
	AckNumber      *uint32
}

// Encode serializes a Frame into its line-oriented wire form. message_type
// is always first; sequence_number then ack_number follow, in that order,
// when present; remaining fields follow in sorted key order. The output
// carries no trailing newline.
func Encode(f *Frame) ([]byte, error) {
	var b strings.Builder
	b.WriteString("message_type: ")
	b.WriteString(string(f.Type))

	if f.SequenceNumber != nil {
		b.WriteString("\nsequence_number: ")
		b.WriteString(strconv.FormatUint(uint64(*f.SequenceNumber), 10))
	}
	if f.AckNumber != nil {
		b.WriteString("\nack_number: ")
		b.WriteString(strconv.FormatUint(uint64(*f.AckNumber), 10))
	}

	keys := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		rendered, err := renderValue(f.Fields[k])
		if err != nil {
			return nil, fmt.Errorf("protocol: encode field %q: %w", k, err)
		}
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(rendered)
	}

	return []byte(b.String()), nil
}

func renderValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case int:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("unsupported field type %T", v)
		}
		return string(raw), nil
	}
}

// Decode parses a wire payload into a Frame. Lines without a ':' separator
// are silently skipped; only the first ':' on a line is treated as the
// key/value separator, so values may themselves contain colons.
func Decode(data []byte) (*Frame, error) {
	lines := strings.Split(string(data), "\n")

	f := &Frame{Fields: make(map[string]interface{})}
	haveType := false

	for _, line := range lines {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}

		switch key {
		case "message_type":
			f.Type = MessageType(value)
			haveType = true
		case "sequence_number":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid sequence_number %q", ErrMalformedFrame, value)
			}
			seq := uint32(n)
			f.SequenceNumber = &seq
		case "ack_number":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid ack_number %q", ErrMalformedFrame, value)
			}
			ack := uint32(n)
			f.AckNumber = &ack
		default:
			f.Fields[key] = decodeValue(key, value)
		}
	}

	if !haveType {
		return nil, fmt.Errorf("%w: missing message_type", ErrMalformedFrame)
	}
	return f, nil
}

func decodeValue(key, value string) interface{} {
	if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			return decoded
		}
		return value
	}

	if key != "message_type" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		if fl, err := strconv.ParseFloat(value, 64); err == nil {
			return fl
		}
	}

	return value
}

// ParseHeader does a fast, bounded-depth scan for routing information
// without decoding the full payload. It fails if no message_type line
// appears among the first headerScanLines lines.
func ParseHeader(data []byte) (*Header, error) {
	lines := strings.SplitN(string(data), "\n", headerScanLines+1)
	if len(lines) > headerScanLines {
		lines = lines[:headerScanLines]
	}

	h := &Header{}
	haveType := false

	for _, line := range lines {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		switch key {
		case "message_type":
			h.Type = MessageType(value)
			haveType = true
		case "sequence_number":
			if n, err := strconv.ParseUint(value, 10, 32); err == nil {
				seq := uint32(n)
				h.SequenceNumber = &seq
			}
		case "ack_number":
			if n, err := strconv.ParseUint(value, 10, 32); err == nil {
				ack := uint32(n)
				h.AckNumber = &ack
			}
		}
	}

	if !haveType {
		return nil, fmt.Errorf("%w: missing message_type in header", ErrMalformedFrame)
	}
	return h, nil
}
