// Package icecast implements the source side of the Icecast streaming
// protocol: a PUT (or legacy SOURCE) handshake with Basic authentication
// over TCP or TLS, followed by a raw Ogg byte stream on the same
// connection.
package icecast
