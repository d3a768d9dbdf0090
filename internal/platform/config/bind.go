package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// bind fills target from env tags. A tag reads `env:"NAME[,upper|lower]"`; the default tag
// applies when the variable is unset or blank. Untagged struct fields are descended into.
func bind(target any, lookup func(string) (string, bool)) error {
	return bindStruct(reflect.ValueOf(target).Elem(), lookup)
}

func bindStruct(v reflect.Value, lookup func(string) (string, bool)) error {
	var errs []error
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field, value := t.Field(i), v.Field(i)
		tag, ok := field.Tag.Lookup("env")
		if !ok {
			if value.Kind() == reflect.Struct {
				errs = append(errs, bindStruct(value, lookup))
			}
			continue
		}
		name, modifier, _ := strings.Cut(tag, ",")
		raw, _ := lookup(name)
		if raw = strings.TrimSpace(raw); raw == "" {
			raw = field.Tag.Get("default")
		}
		if err := assign(value, raw, modifier); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func assign(v reflect.Value, raw, modifier string) error {
	if v.Type() == durationType {
		if raw == "" {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		switch modifier {
		case "upper":
			raw = strings.ToUpper(raw)
		case "lower":
			raw = strings.ToLower(raw)
		}
		v.SetString(raw)
	case reflect.Int:
		if raw == "" {
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case reflect.Slice:
		v.Set(reflect.ValueOf(splitList(raw)))
	case reflect.Map:
		v.Set(reflect.ValueOf(splitPairs(raw)))
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitPairs parses "name=value,other=value". Names are lower-cased; incomplete pairs are
// skipped.
func splitPairs(raw string) map[string]string {
	out := make(map[string]string)
	for _, entry := range splitList(raw) {
		name, value, ok := strings.Cut(entry, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}
