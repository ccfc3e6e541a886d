// Package ogg implements the Ogg container page format: incremental page
// parsing with CRC verification and capture-pattern resynchronisation, and
// re-serialisation of pages under rewritten stream identifiers.
//
// The package deals in pages only; it never interprets codec payloads.
package ogg
