package discovery

import (
	"encoding/binary"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

// RRType is a DNS resource record type, restricted to the subset mDNS
// publication/query actually needs.
type RRType uint16

const (
	TypeA   RRType = 1
	TypePTR RRType = 12
	TypeTXT RRType = 16
	TypeSRV RRType = 33
)

const classIN = 1

// Question is one entry in a DNS message's question section.
type Question struct {
	Name  string
	Type  RRType
	Class uint16
}

// ResourceRecord is one answer/authority/additional entry.
type ResourceRecord struct {
	Name  string
	Type  RRType
	Class uint16
	TTL   uint32
	RData []byte
}

// SRVData is the parsed form of an RRType.SRV record's RDATA, per
// spec.md §4.C ("priority(2) | weight(2) | port(2) | name").
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// Message is the minimal DNS message envelope BEY encodes/decodes:
// header flags, questions, and answers. Authority/additional sections are
// neither encoded nor decoded (their counts are written as zero and ignored
// on read), since mDNS publication here only ever answers within the
// answer section.
type Message struct {
	ID        uint16
	Response  bool
	Questions []Question
	Answers   []ResourceRecord
}

// Encode serializes m to wire format.
func (m *Message) Encode() ([]byte, error) {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], m.ID)
	if m.Response {
		buf[2] = 0x84 // QR=1, AA=1
	}
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(m.Questions)))
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(m.Answers)))

	for _, q := range m.Questions {
		name, err := encodeName(q.Name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, name...)
		tmp := make([]byte, 4)
		binary.BigEndian.PutUint16(tmp[0:2], uint16(q.Type))
		binary.BigEndian.PutUint16(tmp[2:4], q.Class)
		buf = append(buf, tmp...)
	}

	for _, rr := range m.Answers {
		name, err := encodeName(rr.Name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, name...)
		tmp := make([]byte, 10)
		binary.BigEndian.PutUint16(tmp[0:2], uint16(rr.Type))
		binary.BigEndian.PutUint16(tmp[2:4], rr.Class)
		binary.BigEndian.PutUint32(tmp[4:8], rr.TTL)
		binary.BigEndian.PutUint16(tmp[8:10], uint16(len(rr.RData)))
		buf = append(buf, tmp...)
		buf = append(buf, rr.RData...)
	}

	return buf, nil
}

// Decode parses a wire-format DNS message.
func Decode(data []byte) (*Message, error) {
	if len(data) < 12 {
		return nil, beyerr.Parse(beyerr.CodeDiscoveryBase+10, "message shorter than header", nil)
	}
	m := &Message{ID: binary.BigEndian.Uint16(data[0:2])}
	m.Response = data[2]&0x80 != 0
	qdCount := binary.BigEndian.Uint16(data[4:6])
	anCount := binary.BigEndian.Uint16(data[6:8])

	off := 12
	for i := 0; i < int(qdCount); i++ {
		name, next, err := decodeName(data, off)
		if err != nil {
			return nil, err
		}
		off = next
		if off+4 > len(data) {
			return nil, beyerr.Parse(beyerr.CodeDiscoveryBase+11, "truncated question", nil)
		}
		q := Question{
			Name:  name,
			Type:  RRType(binary.BigEndian.Uint16(data[off : off+2])),
			Class: binary.BigEndian.Uint16(data[off+2 : off+4]),
		}
		off += 4
		m.Questions = append(m.Questions, q)
	}

	for i := 0; i < int(anCount); i++ {
		name, next, err := decodeName(data, off)
		if err != nil {
			return nil, err
		}
		off = next
		if off+10 > len(data) {
			return nil, beyerr.Parse(beyerr.CodeDiscoveryBase+12, "truncated resource record", nil)
		}
		rr := ResourceRecord{
			Name:  name,
			Type:  RRType(binary.BigEndian.Uint16(data[off : off+2])),
			Class: binary.BigEndian.Uint16(data[off+2 : off+4]),
			TTL:   binary.BigEndian.Uint32(data[off+4 : off+8]),
		}
		rdlen := int(binary.BigEndian.Uint16(data[off+8 : off+10]))
		off += 10
		if off+rdlen > len(data) {
			return nil, beyerr.Parse(beyerr.CodeDiscoveryBase+13, "truncated RDATA", nil)
		}
		rr.RData = append([]byte(nil), data[off:off+rdlen]...)
		off += rdlen
		m.Answers = append(m.Answers, rr)
	}

	return m, nil
}

// EncodeSRV serializes priority/weight/port/target into SRV RDATA.
func EncodeSRV(s SRVData) ([]byte, error) {
	name, err := encodeName(s.Target)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 6, 6+len(name))
	binary.BigEndian.PutUint16(out[0:2], s.Priority)
	binary.BigEndian.PutUint16(out[2:4], s.Weight)
	binary.BigEndian.PutUint16(out[4:6], s.Port)
	return append(out, name...), nil
}

// DecodeSRV parses SRV RDATA. Since the target name may itself use
// compression pointers relative to the whole message, callers must pass
// the full message buffer and the RDATA's starting offset within it.
func DecodeSRV(msg []byte, rdataOffset int) (SRVData, error) {
	if rdataOffset+6 > len(msg) {
		return SRVData{}, beyerr.Parse(beyerr.CodeDiscoveryBase+14, "truncated SRV RDATA", nil)
	}
	s := SRVData{
		Priority: binary.BigEndian.Uint16(msg[rdataOffset : rdataOffset+2]),
		Weight:   binary.BigEndian.Uint16(msg[rdataOffset+2 : rdataOffset+4]),
		Port:     binary.BigEndian.Uint16(msg[rdataOffset+4 : rdataOffset+6]),
	}
	target, _, err := decodeName(msg, rdataOffset+6)
	if err != nil {
		return SRVData{}, err
	}
	s.Target = target
	return s, nil
}

// EncodeTXT packs key=value strings into TXT RDATA, one length-prefixed
// character-string per entry, per spec.md §6 ("TXT records use key=value
// ASCII ≤ 255 bytes per record").
func EncodeTXT(pairs map[string]string) ([]byte, error) {
	var out []byte
	for k, v := range pairs {
		entry := k + "=" + v
		if len(entry) > 255 {
			return nil, beyerr.Validation(beyerr.CodeDiscoveryBase+15, "TXT entry exceeds 255 bytes: "+k)
		}
		out = append(out, byte(len(entry)))
		out = append(out, []byte(entry)...)
	}
	return out, nil
}

// DecodeTXT unpacks TXT RDATA into key=value pairs.
func DecodeTXT(rdata []byte) map[string]string {
	out := make(map[string]string)
	off := 0
	for off < len(rdata) {
		length := int(rdata[off])
		off++
		if off+length > len(rdata) {
			break
		}
		entry := string(rdata[off : off+length])
		off += length
		if idx := indexOfByte(entry, '='); idx >= 0 {
			out[entry[:idx]] = entry[idx+1:]
		}
	}
	return out
}

func indexOfByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
