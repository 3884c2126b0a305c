// Package pairing drives the QR-token linking flow that binds this device
// to a wallet: token resolution, passkey creation, device registration and
// the polled wait for approval on the wallet side.
package pairing

import (
	"net/url"
	"strings"
)

const (
	// PairingHost is the only host pairing QR codes may point at.
	PairingHost = "app.getodyssey.xyz"

	pairingPath = "/pair-mobile"
)

// ParseTokenFromURL extracts the pairing token from a scanned QR URL like
// https://app.getodyssey.xyz/pair-mobile?token=xxx. Wrong host, wrong path,
// a missing token, or a non-URL string all report false.
func ParseTokenFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	if u.Hostname() != PairingHost && u.Hostname() != "www."+PairingHost {
		return "", false
	}

	if u.Path != pairingPath {
		return "", false
	}

	token := strings.TrimSpace(u.Query().Get("token"))
	if token == "" {
		return "", false
	}
	return token, true
}
