package icecast

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config describes an Icecast source connection.
type Config struct {
	Host     string
	Port     int
	Mount    string
	Username string
	Password string
	UseTLS   bool

	UserAgent string

	// Optional stream metadata forwarded to the server on handshake.
	Name        string
	Description string
	Genre       string
	URL         string
	Public      bool

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AuthError is a permanent authentication rejection (401 or 403); callers
// must not retry after one.
type AuthError struct {
	Code int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("icecast: authentication rejected with status %d", e.Code)
}

// StatusError is a non-auth handshake rejection; callers may retry.
type StatusError struct {
	Code int
	Line string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("icecast: server rejected source: %s", strings.TrimSpace(e.Line))
}

// Conn is an established source connection. After a successful handshake the
// socket carries nothing but Ogg pages; Conn is not safe for concurrent
// writers.
type Conn struct {
	cfg  Config
	conn net.Conn
}

// Dial connects to the server and performs the source handshake. It tries
// PUT first and falls back to the legacy SOURCE method on a fresh connection
// if the server answers 405. The returned error is an *AuthError for 401 and
// 403 responses and retryable otherwise.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "snowboot"
	}

	c, err := dialMethod(ctx, cfg, "PUT")
	var se *StatusError
	if errors.As(err, &se) && se.Code == 405 {
		c, err = dialMethod(ctx, cfg, "SOURCE")
	}
	return c, err
}

func dialMethod(ctx context.Context, cfg Config, method string) (*Conn, error) {
	d := &net.Dialer{
		Timeout: cfg.ConnectTimeout,
		// Low-interval keepalive surfaces a dead peer between writes.
		KeepAlive: 15 * time.Second,
	}
	nc, err := d.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("icecast: dial %s: %w", cfg.addr(), err)
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	if cfg.UseTLS {
		tc := tls.Client(nc, &tls.Config{ServerName: cfg.Host})
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("icecast: tls handshake: %w", err)
		}
		nc = tc
	}

	if cfg.ConnectTimeout > 0 {
		_ = nc.SetDeadline(time.Now().Add(cfg.ConnectTimeout))
	}
	if err := handshake(nc, cfg, method); err != nil {
		nc.Close()
		return nil, err
	}
	_ = nc.SetDeadline(time.Time{})

	return &Conn{cfg: cfg, conn: nc}, nil
}

func handshake(nc net.Conn, cfg Config, method string) error {
	auth := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))

	var b strings.Builder
	proto := "HTTP/1.1"
	if method == "SOURCE" {
		proto = "HTTP/1.0"
	}
	fmt.Fprintf(&b, "%s %s %s\r\n", method, cfg.Mount, proto)
	fmt.Fprintf(&b, "Host: %s\r\n", cfg.addr())
	fmt.Fprintf(&b, "Authorization: Basic %s\r\n", auth)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", cfg.UserAgent)
	b.WriteString("Content-Type: application/ogg\r\n")
	fmt.Fprintf(&b, "Ice-Public: %s\r\n", boolTo01(cfg.Public))
	if cfg.Name != "" {
		fmt.Fprintf(&b, "Ice-Name: %s\r\n", cfg.Name)
	}
	if cfg.Description != "" {
		fmt.Fprintf(&b, "Ice-Description: %s\r\n", cfg.Description)
	}
	if cfg.Genre != "" {
		fmt.Fprintf(&b, "Ice-Genre: %s\r\n", cfg.Genre)
	}
	if cfg.URL != "" {
		fmt.Fprintf(&b, "Ice-Url: %s\r\n", cfg.URL)
	}
	if method == "PUT" {
		b.WriteString("Expect: 100-continue\r\n")
	}
	b.WriteString("\r\n")

	if _, err := nc.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("icecast: write handshake: %w", err)
	}

	code, line, err := readStatus(bufio.NewReader(nc))
	if err != nil {
		return fmt.Errorf("icecast: read handshake response: %w", err)
	}
	switch {
	case code == 401 || code == 403:
		return &AuthError{Code: code}
	case code >= 100 && code < 300:
		return nil
	default:
		return &StatusError{Code: code, Line: line}
	}
}

// readStatus consumes the status line and headers up to the blank line and
// returns the status code.
func readStatus(r *bufio.Reader) (int, string, error) {
	status, err := r.ReadString('\n')
	if err != nil {
		return 0, "", err
	}
	fields := strings.Fields(status)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, status, fmt.Errorf("malformed status line %q", strings.TrimSpace(status))
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, status, fmt.Errorf("malformed status code in %q", strings.TrimSpace(status))
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, status, err
		}
		if line == "\r\n" || line == "\n" {
			return code, status, nil
		}
	}
}

func boolTo01(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Write sends one page to the server as a single write. A short or failed
// write means the socket is lost and the connection must be discarded.
func (c *Conn) Write(page []byte) error {
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	n, err := c.conn.Write(page)
	if err != nil {
		return err
	}
	if n != len(page) {
		return fmt.Errorf("icecast: short write: %d of %d bytes", n, len(page))
	}
	return nil
}

// Close tears down the socket. No Ogg end-of-stream page is emitted; the
// server times the mount out on its own.
func (c *Conn) Close() error {
	return c.conn.Close()
}
