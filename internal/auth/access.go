package auth

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidAccessCode = errors.New("invalid access code")
	ErrAccessRequired    = errors.New("access code required")
)

// AccessGate guards the app behind invite codes. Only bcrypt hashes of the
// codes are configured; a user who redeems a valid code stays granted.
type AccessGate struct {
	hashes [][]byte

	mu      sync.RWMutex
	granted map[string]bool
}

// NewAccessGate builds a gate. With no hashes the gate is open.
func NewAccessGate(hashes []string) *AccessGate {
	g := &AccessGate{granted: map[string]bool{}}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			g.hashes = append(g.hashes, []byte(h))
		}
	}
	return g
}

func (g *AccessGate) Open() bool { return len(g.hashes) == 0 }

// Redeem grants uid access if code matches one of the configured hashes.
func (g *AccessGate) Redeem(uid, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ErrInvalidAccessCode
	}
	for _, h := range g.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(code)) == nil {
			g.mu.Lock()
			g.granted[uid] = true
			g.mu.Unlock()
			return nil
		}
	}
	return ErrInvalidAccessCode
}

func (g *AccessGate) Granted(uid string) bool {
	if g.Open() {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.granted[uid]
}

// HashAccessCode returns the bcrypt hash to put in configuration for code.
func HashAccessCode(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(strings.ToUpper(strings.TrimSpace(code))), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
