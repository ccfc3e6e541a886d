// Package vorbis synthesises an Ogg Vorbis silence stream and parses the
// Vorbis identification header.
//
// The silence template is built once per process: a minimal codec setup (one
// codebook, one floor, one residue, one mapping and mode) plus audio packets
// whose per-channel floor flag is unset, which a conforming decoder renders
// as exact digital silence. No encoder library is involved and payloads are
// never decoded here.
package vorbis
