// Package auth implements the Authenticator collaborator: given a key and a
// peer address, it returns the matching Account or reports it as denied.
package auth

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
)

// Account identifies an authenticated key's owner.
type Account struct {
	UserID string
	Email  string
}

type keyEntry struct {
	UserID   string   `json:"userid"`
	Email    string   `json:"email,omitempty"`
	Allow    []string `json:"allow,omitempty"`
	Password string   `json:"password,omitempty"`
}

type database struct {
	Keys map[string]keyEntry `json:"keys"`
}

// Authenticator authenticates (key, peer address) pairs against a key
// database loaded from JSON. A nil *Authenticator (no database configured)
// authenticates everything: when the database is absent, all operations
// proceed unauthenticated.
type Authenticator struct {
	db      database
	allowed map[string][]*net.IPNet
}

// Load reads the key database at path. A missing file is not an error: the
// caller gets a nil *Authenticator, which Authenticate treats as
// unauthenticated/open.
func Load(path string) (*Authenticator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading auth database: %w", err)
	}

	var db database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parsing auth database: %w", err)
	}

	a := &Authenticator{db: db, allowed: make(map[string][]*net.IPNet, len(db.Keys))}
	for key, entry := range db.Keys {
		nets, err := parseAllowList(entry.Allow)
		if err != nil {
			return nil, fmt.Errorf("parsing allow list for key %q: %w", key, err)
		}
		a.allowed[key] = nets
	}
	return a, nil
}

// parseAllowList parses each entry as a CIDR, treating a bare IP as /32
// (or /128 for IPv6).
func parseAllowList(allow []string) ([]*net.IPNet, error) {
	if len(allow) == 0 {
		return nil, nil
	}
	nets := make([]*net.IPNet, 0, len(allow))
	for _, entry := range allow {
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, cidr)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid allow entry %q: not an IP or CIDR", entry)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

// Authenticate looks up key and, if it carries a non-empty allow list,
// verifies address is contained in one of its CIDRs. A nil Authenticator
// (no database loaded) authenticates every request.
func (a *Authenticator) Authenticate(key, address string) (*Account, bool) {
	if a == nil {
		return &Account{}, true
	}

	entry, ok := a.db.Keys[key]
	if !ok {
		return nil, false
	}

	if nets := a.allowed[key]; len(nets) > 0 {
		ip := net.ParseIP(address)
		if ip == nil {
			return nil, false
		}
		allowed := false
		for _, n := range nets {
			if n.Contains(ip) {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, false
		}
	}

	return &Account{UserID: entry.UserID, Email: entry.Email}, true
}
