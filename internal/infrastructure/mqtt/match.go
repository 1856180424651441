package mqtt

import "strings"

// Match reports whether topic matches the subscription pattern.
//
// Patterns are "/"-delimited. A "+" segment matches exactly one topic
// segment. A "#" segment must be the last one and matches that level and
// everything below it, including nothing at all ("rfid/#" matches "rfid").
// Any other segment must equal the topic segment.
//
// Malformed patterns ("#" not last, or a wildcard mixed into a segment
// such as "a+") never match. Topics starting with "$" are reserved for
// the broker and are not matched by a leading wildcard.
//
// Examples:
//
//	Match("rfid/+/status", "rfid/ESP32-01/status") // true
//	Match("rfid/#", "rfid/tags")                   // true
//	Match("rfid/+", "rfid/a/b")                    // false
func Match(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}

	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	if strings.HasPrefix(topic, "$") && (p[0] == "+" || p[0] == "#") {
		return false
	}

	for i, seg := range p {
		switch {
		case seg == "#":
			return i == len(p)-1
		case seg == "+":
			if i >= len(t) {
				return false
			}
		default:
			if strings.ContainsAny(seg, "+#") {
				return false
			}
			if i >= len(t) || seg != t[i] {
				return false
			}
		}
	}

	return len(p) == len(t)
}

// ValidPattern reports whether pattern is a well-formed subscription
// filter: non-empty, "#" only as the last segment, and wildcards never
// mixed into a segment.
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	segs := strings.Split(pattern, "/")
	for i, seg := range segs {
		switch {
		case seg == "#":
			if i != len(segs)-1 {
				return false
			}
		case seg == "+":
		case strings.ContainsAny(seg, "+#"):
			return false
		}
	}
	return true
}
