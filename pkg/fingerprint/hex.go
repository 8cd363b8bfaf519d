package fingerprint

import "encoding/base64"

const hex = "0123456789ABCDEF"

// Base64 renders b as unpadded URL-safe base64, the compact text form used
// for QR payloads and fingerprint display.
func Base64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func Hex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	s := make([]byte, len(b)*3-1)
	for i, v := range b {
		pos := i * 3
		s[pos] = hex[v>>4]
		s[pos+1] = hex[v&0x0F]
		if i != len(b)-1 {
			s[pos+2] = ':'
		}
	}
	return string(s)
}
