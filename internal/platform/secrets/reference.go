package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Reference points at a Secret Manager secret: secret://NAME[?version=V&project=P]. The sm://
// prefix is accepted as an alias.
type Reference struct {
	Name      string
	Version   string
	Project   string
	Canonical string
}

// ParseReference validates ref and returns its parts. Canonical omits the query string.
func ParseReference(ref string) (Reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	u, err := url.Parse(ref)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	return Reference{
		Name:      name,
		Version:   strings.TrimSpace(query.Get("version")),
		Project:   strings.TrimSpace(query.Get("project")),
		Canonical: "secret://" + name,
	}, nil
}

// secretID maps a slash separated name onto Secret Manager's flat namespace.
func (r Reference) secretID() string {
	return strings.ReplaceAll(r.Name, "/", "-")
}

// envKey is the dotenv variable name for the secret.
func (r Reference) envKey() string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z':
			return c - 'a' + 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		}
		return '_'
	}, r.Name)
}
