package vorbis

import (
	"fmt"

	"github.com/zachfi/snowboot/pkg/ogg"
)

const (
	silenceChannels = 2
	blockExp        = 11 // 2048-sample short blocks
	blockSize       = 1 << blockExp

	// packetsPerPage frames this many silence packets onto each emitted page.
	packetsPerPage = 8
)

// Source produces Ogg Vorbis silence pages on demand. It is immutable after
// construction and safe for use from a single writer goroutine per stream;
// all stream state (serial, sequence, granule) belongs to the caller and is
// passed in per batch.
type Source struct {
	sampleRate int
	channels   int

	headers     [3][]byte // identification, comment, setup packets
	audioPage   ogg.Page  // template page of silence packets
	samplesPage int64
}

// NewSource builds the silence template for the given PCM parameters.
func NewSource(sampleRate, bitrateKbps int) (*Source, error) {
	if sampleRate < 8000 || sampleRate > 192000 {
		return nil, fmt.Errorf("vorbis: sample rate %d out of range", sampleRate)
	}
	if bitrateKbps < 8 || bitrateKbps > 500 {
		return nil, fmt.Errorf("vorbis: bitrate %d out of range", bitrateKbps)
	}

	s := &Source{
		sampleRate: sampleRate,
		channels:   silenceChannels,
	}
	s.headers[0] = identificationPacket(s.channels, sampleRate, bitrateKbps*1000, blockExp)
	s.headers[1] = commentPacket()
	s.headers[2] = setupPacket()

	pkt := silencePacket(s.channels)
	packets := make([][]byte, packetsPerPage)
	for i := range packets {
		packets[i] = pkt
	}
	s.audioPage = ogg.NewPage(0, packets)
	// Short blocks overlap by half, so each packet advances the PCM clock by
	// blockSize/2 samples.
	s.samplesPage = int64(packetsPerPage * blockSize / 2)

	return s, nil
}

// SampleRate reports the template's PCM rate.
func (s *Source) SampleRate() int { return s.sampleRate }

// Channels reports the template's channel count.
func (s *Source) Channels() int { return s.channels }

// SamplesPerPage reports how far one silence page advances the granule.
func (s *Source) SamplesPerPage() int64 { return s.samplesPage }

// IDHeader reports the stream parameters the session is bound to.
func (s *Source) IDHeader() IDHeader {
	h, _ := ParseIDHeader(s.headers[0])
	return h
}

// HeaderPages encodes the three header pages that open a logical stream:
// sequences 0, 1 and 2, granule 0, with the first-page flag on the
// identification page.
func (s *Source) HeaderPages(serial uint32) [][]byte {
	out := make([][]byte, 0, 3)
	for i, pkt := range s.headers {
		typ := byte(0)
		if i == 0 {
			typ = ogg.FlagFirst
		}
		p := ogg.NewPage(typ, [][]byte{pkt})
		out = append(out, p.Encode(serial, uint32(i), 0))
	}
	return out
}

// NextBatch emits silence pages until cumulative samples reach samplesNeeded,
// stamping contiguous sequence numbers from seq and granules advancing from
// granule. It returns the encoded pages along with the sequence and granule
// the next batch (or real page) must continue from. Equal arguments always
// yield byte-identical batches.
func (s *Source) NextBatch(serial, seq uint32, granule int64, samplesNeeded int64) (pages [][]byte, nextSeq uint32, nextGranule int64) {
	var produced int64
	for produced < samplesNeeded {
		granule += s.samplesPage
		pages = append(pages, s.audioPage.Encode(serial, seq, granule))
		seq++
		produced += s.samplesPage
	}
	return pages, seq, granule
}
