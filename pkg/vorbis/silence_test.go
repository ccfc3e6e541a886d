package vorbis

import (
	"bytes"
	"testing"

	"github.com/zachfi/snowboot/pkg/ogg"
)

func TestNewSourceValidatesRanges(t *testing.T) {
	if _, err := NewSource(44100, 128); err != nil {
		t.Fatalf("valid parameters rejected: %v", err)
	}
	for _, tc := range []struct{ rate, bitrate int }{
		{7999, 128}, {192001, 128}, {44100, 7}, {44100, 501},
	} {
		if _, err := NewSource(tc.rate, tc.bitrate); err == nil {
			t.Errorf("NewSource(%d, %d) accepted out-of-range parameters", tc.rate, tc.bitrate)
		}
	}
}

func TestHeaderPages(t *testing.T) {
	s, err := NewSource(48000, 192)
	if err != nil {
		t.Fatal(err)
	}
	raw := s.HeaderPages(0xabad1dea)
	if len(raw) != 3 {
		t.Fatalf("got %d header pages, want 3", len(raw))
	}
	for i, b := range raw {
		p, n, err := parsePage(t, b)
		if err != nil {
			t.Fatalf("header page %d does not parse: %v", i, err)
		}
		if n != len(b) {
			t.Errorf("header page %d has trailing bytes", i)
		}
		if p.Serial != 0xabad1dea || p.Sequence != uint32(i) || p.Granule != 0 {
			t.Errorf("header page %d: serial=%x seq=%d granule=%d", i, p.Serial, p.Sequence, p.Granule)
		}
		if first := p.First(); first != (i == 0) {
			t.Errorf("header page %d: first flag = %v", i, first)
		}
		if p.Last() {
			t.Errorf("header page %d carries the last-page flag", i)
		}
	}

	id, err := ParseIDHeader(firstPacket(t, raw[0]))
	if err != nil {
		t.Fatalf("identification page payload: %v", err)
	}
	if id.SampleRate != 48000 || id.Channels != silenceChannels || id.BitrateNominal != 192000 {
		t.Errorf("identification header: %+v", id)
	}
}

func TestNextBatchContinuity(t *testing.T) {
	s, err := NewSource(44100, 128)
	if err != nil {
		t.Fatal(err)
	}

	first, seq, granule := s.NextBatch(7, 3, 0, 44100/10)
	if len(first) == 0 {
		t.Fatal("empty batch")
	}
	second, _, _ := s.NextBatch(7, seq, granule, 44100/10)

	all := append(append([][]byte(nil), first...), second...)
	wantSeq := uint32(3)
	lastGranule := int64(0)
	for i, b := range all {
		p, _, err := parsePage(t, b)
		if err != nil {
			t.Fatalf("batch page %d: %v", i, err)
		}
		if p.Sequence != wantSeq {
			t.Errorf("page %d: sequence %d, want %d", i, p.Sequence, wantSeq)
		}
		wantSeq++
		if p.Granule <= lastGranule {
			t.Errorf("page %d: granule %d did not advance past %d", i, p.Granule, lastGranule)
		}
		if p.Granule-lastGranule != s.SamplesPerPage() {
			t.Errorf("page %d: granule stepped by %d, want %d", i, p.Granule-lastGranule, s.SamplesPerPage())
		}
		lastGranule = p.Granule
	}
}

func TestNextBatchDeterministic(t *testing.T) {
	s, err := NewSource(44100, 128)
	if err != nil {
		t.Fatal(err)
	}
	a, aSeq, aGranule := s.NextBatch(1, 10, 5000, 10000)
	b, bSeq, bGranule := s.NextBatch(1, 10, 5000, 10000)
	if aSeq != bSeq || aGranule != bGranule || len(a) != len(b) {
		t.Fatalf("batches differ in shape: (%d,%d,%d) vs (%d,%d,%d)", len(a), aSeq, aGranule, len(b), bSeq, bGranule)
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			t.Errorf("page %d differs between identical batches", i)
		}
	}
}

func TestNextBatchCoversRequest(t *testing.T) {
	s, err := NewSource(44100, 128)
	if err != nil {
		t.Fatal(err)
	}
	need := int64(44100) // one second
	pages, _, granule := s.NextBatch(1, 0, 0, need)
	if granule < need {
		t.Errorf("batch covers %d samples, want at least %d", granule, need)
	}
	if got := int64(len(pages)) * s.SamplesPerPage(); got != granule {
		t.Errorf("page count %d inconsistent with final granule %d", len(pages), granule)
	}
}

func TestParseIDHeaderRejectsJunk(t *testing.T) {
	if _, err := ParseIDHeader([]byte("OggS not a header")); err == nil {
		t.Error("junk accepted as identification header")
	}
	if _, err := ParseIDHeader(nil); err == nil {
		t.Error("nil accepted as identification header")
	}
}

// parsePage unwraps a single encoded page for assertions.
func parsePage(t *testing.T, b []byte) (ogg.Page, int, error) {
	t.Helper()
	return ogg.Parse(b)
}

func firstPacket(t *testing.T, b []byte) []byte {
	t.Helper()
	p, _, err := ogg.Parse(b)
	if err != nil {
		t.Fatalf("page does not parse: %v", err)
	}
	pkts := p.Packets()
	if len(pkts) == 0 {
		t.Fatal("page has no packets")
	}
	return pkts[0]
}
