package vorbis

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const vendorString = "snowboot silence generator"

var headerMagic = []byte("vorbis")

// Header packet type bytes.
const (
	typeIdentification = 1
	typeComment        = 3
	typeSetup          = 5
)

// IDHeader holds the fields of a Vorbis identification header that bind a
// logical stream to a PCM format.
type IDHeader struct {
	Channels       int
	SampleRate     int
	BitrateNominal int
}

// ErrNotVorbis is returned when a packet is not a Vorbis identification
// header.
var ErrNotVorbis = errors.New("vorbis: not an identification header")

// ParseIDHeader decodes the identification header from the first packet of a
// logical stream.
func ParseIDHeader(packet []byte) (IDHeader, error) {
	if len(packet) < 30 || packet[0] != typeIdentification || string(packet[1:7]) != string(headerMagic) {
		return IDHeader{}, ErrNotVorbis
	}
	if v := binary.LittleEndian.Uint32(packet[7:11]); v != 0 {
		return IDHeader{}, fmt.Errorf("vorbis: unsupported stream version %d", v)
	}
	h := IDHeader{
		Channels:       int(packet[11]),
		SampleRate:     int(binary.LittleEndian.Uint32(packet[12:16])),
		BitrateNominal: int(int32(binary.LittleEndian.Uint32(packet[20:24]))),
	}
	if h.Channels == 0 || h.SampleRate == 0 {
		return IDHeader{}, errors.New("vorbis: zero channels or sample rate")
	}
	return h, nil
}

// identificationPacket builds the 30-byte identification header.
func identificationPacket(channels, sampleRate, bitrateNominal, blockExp int) []byte {
	w := &bitWriter{}
	w.write(typeIdentification, 8)
	w.writeBytes(headerMagic)
	w.write(0, 32) // version
	w.write(uint32(channels), 8)
	w.write(uint32(sampleRate), 32)
	w.write(0, 32) // bitrate maximum
	w.write(uint32(bitrateNominal), 32)
	w.write(0, 32) // bitrate minimum
	w.write(uint32(blockExp), 4)
	w.write(uint32(blockExp), 4)
	w.write(1, 1) // framing
	return w.bytes()
}

func commentPacket() []byte {
	w := &bitWriter{}
	w.write(typeComment, 8)
	w.writeBytes(headerMagic)
	w.write(uint32(len(vendorString)), 32)
	w.writeBytes([]byte(vendorString))
	w.write(0, 32) // user comment count
	w.write(1, 1)  // framing
	return w.bytes()
}

// setupPacket builds the smallest conforming setup header: a single 2-entry
// codebook, a floor1 with no partitions, a residue2 covering an empty range,
// and one short-block mode over a type-0 mapping with no coupling.
func setupPacket() []byte {
	w := &bitWriter{}
	w.write(typeSetup, 8)
	w.writeBytes(headerMagic)

	// Codebooks.
	w.write(0, 8)         // codebook count - 1
	w.write(0x564342, 24) // sync pattern "BCV"
	w.write(1, 16)        // dimensions
	w.write(2, 24)        // entries
	w.write(0, 1)         // not ordered
	w.write(0, 1)         // not sparse
	w.write(0, 5)         // entry 0 codeword length - 1
	w.write(0, 5)         // entry 1 codeword length - 1
	w.write(0, 4)         // lookup type: none

	// Time domain transforms: a count of placeholder zeroes the spec retains.
	w.write(0, 6)
	w.write(0, 16)

	// Floors: one floor1 with zero partitions, so only the implicit endpoint
	// values exist and per-packet data is the single nonzero flag.
	w.write(0, 6)  // floor count - 1
	w.write(1, 16) // floor type 1
	w.write(0, 5)  // partitions
	w.write(0, 2)  // multiplier - 1
	w.write(0, 4)  // rangebits

	// Residues: type 2, empty decode range [0,0); the classbook must still
	// reference a valid codebook.
	w.write(0, 6)  // residue count - 1
	w.write(2, 16) // residue type 2
	w.write(0, 24) // begin
	w.write(0, 24) // end
	w.write(0, 24) // partition size - 1
	w.write(0, 6)  // classifications - 1
	w.write(0, 8)  // classbook
	w.write(0, 3)  // cascade low bits
	w.write(0, 1)  // cascade high flag

	// Mappings: type 0, one submap, no coupling.
	w.write(0, 6)  // mapping count - 1
	w.write(0, 16) // mapping type 0
	w.write(0, 1)  // submap flag: single submap
	w.write(0, 1)  // coupling flag
	w.write(0, 2)  // reserved
	w.write(0, 8)  // time configuration placeholder
	w.write(0, 8)  // floor number
	w.write(0, 8)  // residue number

	// Modes: one short-block mode.
	w.write(0, 6)  // mode count - 1
	w.write(0, 1)  // blockflag: short
	w.write(0, 16) // window type
	w.write(0, 16) // transform type
	w.write(0, 8)  // mapping number

	w.write(1, 1) // framing
	return w.bytes()
}

// silencePacket builds one audio packet decoding to a silent frame: audio
// packet type bit, zero bits of mode number (one mode), and an unset floor
// flag per channel. With every channel unused the residue is skipped.
func silencePacket(channels int) []byte {
	w := &bitWriter{}
	w.write(0, 1) // audio packet
	for i := 0; i < channels; i++ {
		w.write(0, 1) // floor nonzero flag
	}
	return w.bytes()
}
