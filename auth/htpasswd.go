package auth

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Htpasswd authenticates HTTP Basic credentials against bcrypt hashes, as
// produced by "htpasswd -B".
type Htpasswd struct {
	realm  string
	hashes map[string][]byte
}

func NewHtpasswd(realm string, hashes map[string][]byte) *Htpasswd {
	return &Htpasswd{realm: realm, hashes: hashes}
}

func LoadHtpasswd(realm, pathname string) (*Htpasswd, error) {
	f, err := os.Open(pathname)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	h, err := ParseHtpasswd(realm, f)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", pathname, err)
	}
	return h, nil
}

// ParseHtpasswd reads "user:hash" lines. Blank lines and lines starting
// with '#' are skipped. Only bcrypt hashes are accepted.
func ParseHtpasswd(realm string, r io.Reader) (*Htpasswd, error) {
	hashes := make(map[string][]byte)
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("line %d: expecting user:hash", lineno)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("line %d: user %q: not a bcrypt hash: %w", lineno, user, err)
		}
		hashes[user] = []byte(hash)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewHtpasswd(realm, hashes), nil
}

func (h *Htpasswd) Authenticate(r *http.Request) (string, error) {
	user, password, ok := r.BasicAuth()
	if !ok {
		return "", nil
	}
	hash, known := h.hashes[user]
	if !known {
		return "", fmt.Errorf("%q: unknown user: %w", user, ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", fmt.Errorf("%q: %w", user, ErrInvalidCredentials)
	}
	return user, nil
}

func (h *Htpasswd) Challenge() string {
	return fmt.Sprintf("Basic realm=%q", h.realm)
}
