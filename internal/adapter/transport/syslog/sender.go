// Package syslog delivers encoded event lines to a syslog collector.
// Every sender makes exactly one attempt per message; retry policy belongs
// to the caller.
package syslog

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DialTimeout bounds connection setup and the write for TCP and TLS.
const DialTimeout = 5 * time.Second

// Protocol is the socket transport used to reach the collector.
type Protocol string

const (
	ProtocolUDP Protocol = "udp"
	ProtocolTCP Protocol = "tcp"
	ProtocolTLS Protocol = "tls"
)

// ParseProtocol validates a configured protocol name.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case ProtocolUDP, ProtocolTCP, ProtocolTLS:
		return p, nil
	}
	return "", fmt.Errorf("unknown syslog protocol %q", s)
}

// Sender delivers one message. A nil error means the message left this host;
// for UDP that is all it means.
type Sender interface {
	Send(ctx context.Context, message string) error
	Protocol() Protocol
}

// NewSender returns the sender for protocol.
func NewSender(protocol Protocol, host string, port int, verifyTLS bool) (Sender, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	switch protocol {
	case ProtocolUDP:
		return &UDPSender{addr: addr}, nil
	case ProtocolTCP:
		return &TCPSender{addr: addr, timeout: DialTimeout}, nil
	case ProtocolTLS:
		return &TLSSender{
			addr:    addr,
			timeout: DialTimeout,
			config: &tls.Config{
				ServerName:         host,
				InsecureSkipVerify: !verifyTLS, //nolint:gosec // operator controlled via SYSLOG_TLS_VERIFY
				MinVersion:         tls.VersionTLS12,
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown syslog protocol %q", protocol)
}

// UDPSender fires one datagram per message.
type UDPSender struct {
	addr string
}

func (s *UDPSender) Protocol() Protocol { return ProtocolUDP }

func (s *UDPSender) Send(ctx context.Context, message string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", s.addr)
	if err != nil {
		return fmt.Errorf("udp dial %s: %w", s.addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(message)); err != nil {
		return fmt.Errorf("udp write %s: %w", s.addr, err)
	}
	return nil
}

// TCPSender opens a connection per message and terminates it with a newline.
type TCPSender struct {
	addr    string
	timeout time.Duration
}

func (s *TCPSender) Protocol() Protocol { return ProtocolTCP }

func (s *TCPSender) Send(ctx context.Context, message string) error {
	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("tcp dial %s: %w", s.addr, err)
	}
	return writeLine(conn, message, s.timeout)
}

// TLSSender is TCPSender over TLS.
type TLSSender struct {
	addr    string
	timeout time.Duration
	config  *tls.Config
}

func (s *TLSSender) Protocol() Protocol { return ProtocolTLS }

func (s *TLSSender) Send(ctx context.Context, message string) error {
	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.timeout},
		Config:    s.config,
	}
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("tls dial %s: %w", s.addr, err)
	}
	return writeLine(conn, message, s.timeout)
}

func writeLine(conn net.Conn, message string, timeout time.Duration) error {
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := conn.Write([]byte(message + "\n")); err != nil {
		return fmt.Errorf("write %s: %w", conn.RemoteAddr(), err)
	}
	return nil
}
