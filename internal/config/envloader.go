package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// EnvVar is one PERFMERGE_* variable and the config key it overrides.
type EnvVar struct {
	Name string
	// Key is the dotted yaml path, e.g. session.retrieval_timeout.
	Key string
}

// EnvVars lists the variables MergeFromEnv reads, in field order.
func EnvVars() []EnvVar {
	var out []EnvVar
	walkEnv(reflect.ValueOf(Default()).Elem(), "", func(_ reflect.Value, v EnvVar) error {
		out = append(out, v)
		return nil
	})
	return out
}

// MergeFromEnv applies PERFMERGE_* overrides to cfg. Unset or empty
// variables leave the file or default value in place.
func MergeFromEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	return walkEnv(reflect.ValueOf(cfg).Elem(), "", func(field reflect.Value, v EnvVar) error {
		raw := os.Getenv(v.Name)
		if raw == "" {
			return nil
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("%s (%s): %w", v.Name, v.Key, err)
		}
		return nil
	})
}

// walkEnv calls fn for every field carrying an env tag, descending into
// nested sections.
func walkEnv(v reflect.Value, prefix string, fn func(reflect.Value, EnvVar) error) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field, sf := v.Field(i), t.Field(i)
		if !field.CanSet() {
			continue
		}

		key := strings.Split(sf.Tag.Get("yaml"), ",")[0]
		if prefix != "" {
			key = prefix + "." + key
		}

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := walkEnv(field, key, fn); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		if err := fn(field, EnvVar{Name: name, Key: key}); err != nil {
			return err
		}
	}
	return nil
}

// setField parses raw into the kinds the configuration uses.
func setField(field reflect.Value, raw string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(raw)
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case field.CanInt():
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported type %s", field.Type())
	}
	return nil
}
