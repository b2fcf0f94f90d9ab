// Package discovery implements BEY's mDNS (RFC 6762) device discovery,
// spec.md §4.C: publication, query, a hand-rolled DNS wire codec, and a
// liveness-tracked device cache.
//
// The wire codec is hand-rolled rather than built on a third-party mDNS
// client: spec.md's testable properties require byte-exact control over
// compression-pointer cycle rejection, the 63-byte label ceiling, and
// UTF-8 validation that a library would normally hide behind its own
// opaque parser.
package discovery

import (
	"strings"
	"unicode/utf8"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

const (
	maxLabelLength = 63
	// compressionPointerTag marks the top two bits of a length byte that
	// introduce a 14-bit offset pointer instead of a literal label.
	compressionPointerTag = 0xC0
)

// encodeName writes name ("a.b.c", no trailing dot required) as a
// sequence of length-prefixed labels terminated by a zero byte. It never
// emits compression pointers; decodeName is written to accept them
// because other mDNS responders may compress.
func encodeName(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return []byte{0x00}, nil
	}
	var out []byte
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 || len(label) > maxLabelLength {
			return nil, beyerr.Parse(beyerr.CodeDiscoveryBase+1, "invalid label length", nil)
		}
		if !isValidUTF8Label(label) {
			return nil, beyerr.Parse(beyerr.CodeDiscoveryBase+2, "label is not valid UTF-8", nil)
		}
		out = append(out, byte(len(label)))
		out = append(out, []byte(label)...)
	}
	out = append(out, 0x00)
	return out, nil
}

// decodeName parses a DNS-compressed domain name starting at offset off
// within msg, returning the decoded name and the offset immediately
// following the name's own encoding (not following any pointer it jumps
// through). Compression pointers may only reference offsets strictly
// less than the first byte of this name (already-seen offsets); a
// pointer violating that, or forming a cycle, is rejected.
func decodeName(msg []byte, off int) (string, int, error) {
	var labels []string
	visited := make(map[int]struct{})
	cur := off
	endOfFirstPass := -1
	startOffset := off

	for {
		if cur < 0 || cur >= len(msg) {
			return "", 0, beyerr.Parse(beyerr.CodeDiscoveryBase+3, "name offset out of range", nil)
		}
		length := int(msg[cur])

		if length == 0 {
			cur++
			if endOfFirstPass == -1 {
				endOfFirstPass = cur
			}
			break
		}

		if length&compressionPointerTag == compressionPointerTag {
			if cur+1 >= len(msg) {
				return "", 0, beyerr.Parse(beyerr.CodeDiscoveryBase+4, "truncated compression pointer", nil)
			}
			pointer := (int(length&^compressionPointerTag) << 8) | int(msg[cur+1])
			if endOfFirstPass == -1 {
				endOfFirstPass = cur + 2
			}
			if pointer >= startOffset {
				return "", 0, beyerr.Parse(beyerr.CodeDiscoveryBase+5, "compression pointer does not reference an already-seen offset", nil)
			}
			if _, seen := visited[pointer]; seen {
				return "", 0, beyerr.Parse(beyerr.CodeDiscoveryBase+6, "compression pointer cycle", nil)
			}
			visited[pointer] = struct{}{}
			startOffset = pointer
			cur = pointer
			continue
		}

		if length > maxLabelLength {
			return "", 0, beyerr.Parse(beyerr.CodeDiscoveryBase+7, "label exceeds 63 bytes", nil)
		}
		labelStart := cur + 1
		labelEnd := labelStart + length
		if labelEnd > len(msg) {
			return "", 0, beyerr.Parse(beyerr.CodeDiscoveryBase+8, "label runs past end of message", nil)
		}
		label := string(msg[labelStart:labelEnd])
		if !isValidUTF8Label(label) {
			return "", 0, beyerr.Parse(beyerr.CodeDiscoveryBase+9, "label is not valid UTF-8", nil)
		}
		labels = append(labels, label)
		cur = labelEnd
	}

	return strings.Join(labels, "."), endOfFirstPass, nil
}

func isValidUTF8Label(s string) bool {
	return utf8.ValidString(s)
}
