package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/vauchi-app/core/pkg/envelope"
)

var ErrMissingPubKey = errors.New("public key param is required")

func decodeBase64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func encodeBase64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// decodeMailboxID parses a base64 mailbox-id path segment, as issued by
// envelope.MailboxIDFor.
func decodeMailboxID(pathValue string) (envelope.MailboxID, error) {
	var id envelope.MailboxID
	raw, err := decodeBase64(pathValue)
	if err != nil {
		return id, fmt.Errorf("decoding mailbox-id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("mailbox-id must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// ParseForwardedIP extracts the left-most IP from an X-Forwarded-For header
// and strips any port if present. Returns empty string if header is empty.
func ParseForwardedIP(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Split(header, ",")
	ip := strings.TrimSpace(parts[0])
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ip
}

func clientIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		if host, _, err := net.SplitHostPort(strings.TrimSpace(ip)); err == nil {
			return host
		}
		return strings.TrimSpace(ip)
	}

	ip = ParseForwardedIP(r.Header.Get("X-Forwarded-For"))
	if ip != "" {
		return ip
	}

	ip = r.Header.Get("CF-Connecting-IP")
	if ip != "" {
		if host, _, err := net.SplitHostPort(strings.TrimSpace(ip)); err == nil {
			return host
		}
		return strings.TrimSpace(ip)
	}

	ip = r.RemoteAddr
	if host, _, err := net.SplitHostPort(strings.TrimSpace(ip)); err == nil {
		return host
	}
	return strings.TrimSpace(ip)
}
