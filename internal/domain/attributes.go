package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAttributes is returned when attributes do not match a product's declared set.
var ErrInvalidAttributes = errors.New("domain: invalid attributes")

// Attribute is one name/value pair of a variation, for example size=M.
type Attribute struct {
	Name  string
	Value string
}

// Attributes is an ordered mapping from attribute name to value. Order is preserved so
// snapshots render the same way the catalogue declared them.
type Attributes []Attribute

// Get returns the value stored for name.
func (a Attributes) Get(name string) (string, bool) {
	for _, attr := range a {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return "", false
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	copy(out, a)
	return out
}

// Validate checks the attributes against the declared attribute names of a product. Names
// must be declared, unique and carry a non-empty value.
func (a Attributes) Validate(declared []string) error {
	allowed := make(map[string]struct{}, len(declared))
	for _, name := range declared {
		allowed[strings.TrimSpace(name)] = struct{}{}
	}
	seen := make(map[string]struct{}, len(a))
	for _, attr := range a {
		name := strings.TrimSpace(attr.Name)
		if name == "" {
			return fmt.Errorf("%w: attribute name is required", ErrInvalidAttributes)
		}
		if _, ok := allowed[name]; !ok {
			return fmt.Errorf("%w: attribute %q is not declared", ErrInvalidAttributes, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: attribute %q repeated", ErrInvalidAttributes, name)
		}
		if strings.TrimSpace(attr.Value) == "" {
			return fmt.Errorf("%w: attribute %q has no value", ErrInvalidAttributes, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Map flattens the attributes for transports that have no ordered map type.
func (a Attributes) Map() map[string]string {
	if len(a) == 0 {
		return nil
	}
	out := make(map[string]string, len(a))
	for _, attr := range a {
		out[attr.Name] = attr.Value
	}
	return out
}
