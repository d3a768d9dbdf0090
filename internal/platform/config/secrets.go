package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

type unconfiguredResolver struct{}

func (unconfiguredResolver) ResolveSecret(context.Context, string) (string, error) {
	return "", errSecretResolverNotConfigured
}

// SecretError describes a failure to resolve one secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secret fields that resolved to nothing.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the missing field paths, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return slices.Clone(e.names)
}

// RedactedNames returns hashed identifiers safe to log, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	slices.Sort(out)
	return out
}

// resolveSecrets replaces references in every field tagged secret and returns the resolved
// values keyed by field path.
func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	resolved := make(map[string]string)
	err := walkSecrets(reflect.ValueOf(cfg).Elem(), "", func(path string, value *string) error {
		out, err := resolveValue(ctx, resolver, *value)
		if err != nil {
			return err
		}
		*value = out
		resolved[path] = strings.TrimSpace(out)
		return nil
	})
	return resolved, err
}

func walkSecrets(v reflect.Value, prefix string, fn func(path string, value *string) error) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field, value := t.Field(i), v.Field(i)
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}
		if value.Kind() == reflect.Struct {
			if err := walkSecrets(value, path, fn); err != nil {
				return err
			}
			continue
		}
		if field.Tag.Get("secret") != "true" {
			continue
		}
		switch value.Kind() {
		case reflect.String:
			if err := fn(path, value.Addr().Interface().(*string)); err != nil {
				return err
			}
		case reflect.Map:
			entries := value.Interface().(map[string]string)
			keys := make([]string, 0, len(entries))
			for key := range entries {
				keys = append(keys, key)
			}
			slices.Sort(keys)
			for _, key := range keys {
				entry := entries[key]
				if err := fn(fmt.Sprintf("%s[%s]", path, key), &entry); err != nil {
					return err
				}
				entries[key] = entry
			}
		}
	}
	return nil
}

func resolveValue(ctx context.Context, resolver SecretResolver, value string) (string, error) {
	ref, ok := secretReference(value)
	if !ok {
		return value, nil
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		var secretErr *SecretError
		if errors.As(err, &secretErr) && secretErr.Ref == ref {
			return "", secretErr
		}
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// secretReference reports whether value is a secret reference, normalising the sm:// alias
// to secret://.
func secretReference(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return value, strings.HasPrefix(value, "secret://")
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(names, name) || resolved[name] != "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	slices.Sort(names)
	return &MissingSecretsError{names: names}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
