package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	headerSize = 27

	// MaxSegments is the maximum number of entries in a page's segment table.
	MaxSegments = 255

	// MaxPageSize is the largest possible page, 65307 bytes per RFC 3533.
	MaxPageSize = headerSize + MaxSegments + MaxSegments*255
)

// Header-type flag bits.
const (
	FlagContinued byte = 0x01 // page continues a packet from the previous page
	FlagFirst     byte = 0x02 // first page of a logical stream (BOS)
	FlagLast      byte = 0x04 // last page of a logical stream (EOS)
)

var capturePattern = []byte{'O', 'g', 'g', 'S'}

// ErrNeedMoreData is returned by Parse when the buffer does not yet hold a
// complete page. The returned byte count is garbage that may be discarded.
var ErrNeedMoreData = errors.New("ogg: need more data")

// Page is a single parsed Ogg page. Segments and Payload are views into the
// buffer given to Parse and are only valid until the caller reuses it; use
// Clone before retaining a page.
type Page struct {
	Type     byte
	Granule  int64
	Serial   uint32
	Sequence uint32
	Segments []byte
	Payload  []byte
}

func (p *Page) Continued() bool { return p.Type&FlagContinued != 0 }
func (p *Page) First() bool     { return p.Type&FlagFirst != 0 }
func (p *Page) Last() bool      { return p.Type&FlagLast != 0 }

// Clone copies the page's views into fresh backing storage.
func (p *Page) Clone() Page {
	c := *p
	c.Segments = append([]byte(nil), p.Segments...)
	c.Payload = append([]byte(nil), p.Payload...)
	return c
}

// Packets splits the payload along the segment table. A final segment of 255
// means the last packet continues on the next page; it is still returned.
func (p *Page) Packets() [][]byte {
	var out [][]byte
	off, size := 0, 0
	for _, s := range p.Segments {
		size += int(s)
		if s < 255 {
			out = append(out, p.Payload[off:off+size])
			off += size
			size = 0
		}
	}
	if size > 0 {
		out = append(out, p.Payload[off:off+size])
	}
	return out
}

// Parse extracts the next page from buf. On success it returns the page and
// the number of bytes consumed, including any garbage skipped while
// resynchronising on the capture pattern. Pages with a bad version or CRC are
// treated as garbage and scanned past; the only recovery is finding the next
// capture pattern.
//
// When buf ends before a complete page, Parse returns ErrNeedMoreData along
// with the count of leading bytes that cannot start a page; the caller should
// discard those, keep the rest, and call again with more data appended.
func Parse(buf []byte) (Page, int, error) {
	off := 0
	for {
		i := bytes.Index(buf[off:], capturePattern)
		if i < 0 {
			// Keep the last three bytes: the capture pattern may be split
			// across this buffer boundary.
			keep := len(buf) - (len(capturePattern) - 1)
			if keep < off {
				keep = off
			}
			return Page{}, keep, ErrNeedMoreData
		}
		off += i

		rest := buf[off:]
		if len(rest) < headerSize {
			return Page{}, off, ErrNeedMoreData
		}
		if rest[4] != 0 {
			off++
			continue
		}
		nsegs := int(rest[26])
		if len(rest) < headerSize+nsegs {
			return Page{}, off, ErrNeedMoreData
		}
		body := 0
		for _, s := range rest[headerSize : headerSize+nsegs] {
			body += int(s)
		}
		total := headerSize + nsegs + body
		if len(rest) < total {
			return Page{}, off, ErrNeedMoreData
		}

		if pageCRC(rest[:total]) != binary.LittleEndian.Uint32(rest[22:26]) {
			off++
			continue
		}

		p := Page{
			Type:     rest[5],
			Granule:  int64(binary.LittleEndian.Uint64(rest[6:14])),
			Serial:   binary.LittleEndian.Uint32(rest[14:18]),
			Sequence: binary.LittleEndian.Uint32(rest[18:22]),
			Segments: rest[headerSize : headerSize+nsegs],
			Payload:  rest[headerSize+nsegs : total],
		}
		return p, off + total, nil
	}
}

func pageCRC(page []byte) uint32 {
	crc := crcUpdate(0, page[:22])
	crc = crcUpdate(crc, []byte{0, 0, 0, 0})
	return crcUpdate(crc, page[26:])
}

// Encode serialises the page under the given stream identifiers, recomputing
// the CRC. The page's own serial, sequence and granule are ignored.
func (p *Page) Encode(serial, sequence uint32, granule int64) []byte {
	out := make([]byte, headerSize+len(p.Segments)+len(p.Payload))
	copy(out, capturePattern)
	out[4] = 0
	out[5] = p.Type
	binary.LittleEndian.PutUint64(out[6:14], uint64(granule))
	binary.LittleEndian.PutUint32(out[14:18], serial)
	binary.LittleEndian.PutUint32(out[18:22], sequence)
	out[26] = byte(len(p.Segments))
	copy(out[headerSize:], p.Segments)
	copy(out[headerSize+len(p.Segments):], p.Payload)
	binary.LittleEndian.PutUint32(out[22:26], pageCRC(out))
	return out
}

// NewPage frames the given packets onto a single page with the segment table
// lacing RFC 3533 prescribes. Packets must fit: at most 255 segments total.
// Serial, sequence and granule are stamped at Encode time.
func NewPage(typ byte, packets [][]byte) Page {
	var segs []byte
	var payload []byte
	for _, pkt := range packets {
		n := len(pkt)
		for n >= 255 {
			segs = append(segs, 255)
			n -= 255
		}
		segs = append(segs, byte(n))
		payload = append(payload, pkt...)
	}
	if len(segs) > MaxSegments {
		panic("ogg: packets exceed one page")
	}
	return Page{Type: typ, Segments: segs, Payload: payload}
}
