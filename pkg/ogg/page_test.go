package ogg

import (
	"bytes"
	"testing"
)

func testPage(t *testing.T, typ byte, packets ...[]byte) *Page {
	t.Helper()
	p := NewPage(typ, packets)
	return &p
}

func TestParseEncodeRoundTrip(t *testing.T) {
	src := testPage(t, FlagFirst, []byte("hello"), []byte("world"))
	raw := src.Encode(0xdeadbeef, 7, 12345)

	p, n, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if n != len(raw) {
		t.Errorf("consumed %d bytes, want %d", n, len(raw))
	}
	if p.Serial != 0xdeadbeef || p.Sequence != 7 || p.Granule != 12345 {
		t.Errorf("ids not preserved: serial=%x seq=%d granule=%d", p.Serial, p.Sequence, p.Granule)
	}
	if !p.First() || p.Continued() || p.Last() {
		t.Errorf("flags not preserved: %#x", p.Type)
	}

	// Re-encoding with identical parameters must reproduce the bytes.
	again := p.Encode(0xdeadbeef, 7, 12345)
	if !bytes.Equal(raw, again) {
		t.Error("reserialize with identical parameters changed the bytes")
	}

	pkts := p.Packets()
	if len(pkts) != 2 || string(pkts[0]) != "hello" || string(pkts[1]) != "world" {
		t.Errorf("packets not preserved: %q", pkts)
	}
}

func TestParseNeedMoreData(t *testing.T) {
	raw := testPage(t, 0, []byte("payload")).Encode(1, 0, 0)

	for cut := 1; cut < len(raw); cut++ {
		_, n, err := Parse(raw[:cut])
		if err != ErrNeedMoreData {
			t.Fatalf("truncated at %d: got err %v, want ErrNeedMoreData", cut, err)
		}
		if n != 0 {
			t.Fatalf("truncated at %d: told to discard %d bytes of a valid prefix", cut, n)
		}
	}
}

func TestParseResyncSkipsGarbage(t *testing.T) {
	raw := testPage(t, 0, []byte("data")).Encode(1, 3, 99)
	garbage := []byte("xxOgxSnoise")
	buf := append(append([]byte(nil), garbage...), raw...)

	p, n, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d, want %d", n, len(buf))
	}
	if p.Sequence != 3 || p.Granule != 99 {
		t.Errorf("wrong page after resync: seq=%d granule=%d", p.Sequence, p.Granule)
	}
}

func TestParseRejectsCorruptCRC(t *testing.T) {
	bad := testPage(t, 0, []byte("aaaa")).Encode(1, 0, 0)
	bad[len(bad)-1] ^= 0xff // flip a payload bit; CRC no longer matches
	good := testPage(t, 0, []byte("bbbb")).Encode(1, 1, 10)
	buf := append(bad, good...)

	p, n, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Sequence != 1 {
		t.Errorf("got page seq %d, want the page after the corrupt one", p.Sequence)
	}
	if n != len(buf) {
		t.Errorf("consumed %d, want %d", n, len(buf))
	}
}

func TestParseIncremental(t *testing.T) {
	pages := [][]byte{
		testPage(t, FlagFirst, []byte("one")).Encode(9, 0, 0),
		testPage(t, 0, []byte("two")).Encode(9, 1, 100),
		testPage(t, 0, []byte("three")).Encode(9, 2, 200),
	}
	stream := bytes.Join(pages, nil)

	var buf []byte
	var got []Page
	// Feed one byte at a time, the way a pipe reader would under pressure.
	for _, b := range stream {
		buf = append(buf, b)
		for {
			p, n, err := Parse(buf)
			if err == ErrNeedMoreData {
				buf = buf[n:]
				break
			}
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			got = append(got, p.Clone())
			buf = buf[n:]
		}
	}
	if len(got) != 3 {
		t.Fatalf("parsed %d pages, want 3", len(got))
	}
	for i, p := range got {
		if p.Sequence != uint32(i) {
			t.Errorf("page %d has sequence %d", i, p.Sequence)
		}
	}
}

func TestLacingLongPacket(t *testing.T) {
	long := make([]byte, 510) // exactly two 255-segments plus a 0 terminator
	p := NewPage(0, [][]byte{long})
	if len(p.Segments) != 3 || p.Segments[0] != 255 || p.Segments[1] != 255 || p.Segments[2] != 0 {
		t.Errorf("bad lacing for 510-byte packet: %v", p.Segments)
	}
	raw := p.Encode(5, 0, -1)
	back, _, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if back.Granule != -1 {
		t.Errorf("granule -1 not preserved: %d", back.Granule)
	}
	pkts := back.Packets()
	if len(pkts) != 1 || len(pkts[0]) != 510 {
		t.Errorf("packet not reassembled: %d packets", len(pkts))
	}
}

func TestCRCKnownGood(t *testing.T) {
	// A page of all zero payload still checksums deterministically; verify the
	// checksum survives a parse of our own encoding and that zeroing the CRC
	// field is part of the computation.
	raw := testPage(t, 0, make([]byte, 16)).Encode(0, 0, 0)
	if _, _, err := Parse(raw); err != nil {
		t.Fatalf("self-encoded page does not verify: %v", err)
	}
	raw[22] ^= 0x01
	if _, _, err := Parse(raw); err != ErrNeedMoreData {
		t.Fatalf("tampered CRC accepted, err=%v", err)
	}
}
