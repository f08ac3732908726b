// Package config loads the isolate runtime configuration from YAML or JSON
// files and ISOLATE_* environment overrides, then validates it.
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

// Validator validates configuration
type Validator interface {
	Validate(config interface{}) error
}

// ValidatorFunc is a function that validates configuration
type ValidatorFunc func(config interface{}) error

func (f ValidatorFunc) Validate(config interface{}) error {
	return f(config)
}

// LoadWithEnv loads the file at path into target, then applies environment
// overrides named PREFIX_SECTION_FIELD (e.g. ISOLATE_POLICY_SPAWNOVERHEAD).
func LoadWithEnv(path string, prefix string, target interface{}) error {
	if err := Load(path, target); err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}
	if err := ApplyEnvOverrides(prefix, target); err != nil {
		return fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return nil
}

// ApplyEnvOverrides sets fields of the struct pointed to by target from the
// process environment. An empty prefix means EnvPrefix.
func ApplyEnvOverrides(prefix string, target interface{}) error {
	return applyEnv(prefix, target, os.LookupEnv)
}

func applyEnv(prefix string, target interface{}, lookup func(string) (string, bool)) error {
	if prefix == "" {
		prefix = EnvPrefix
	}
	val := reflect.ValueOf(target)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to a struct")
	}
	return envWalk(prefix, val.Elem(), lookup)
}

func envWalk(prefix string, val reflect.Value, lookup func(string) (string, bool)) error {
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		f, sf := val.Field(i), typ.Field(i)
		if !f.CanSet() || sf.Tag.Get("yaml") == "-" {
			continue
		}
		key := prefix + "_" + strings.ToUpper(sf.Name)

		switch {
		case f.Kind() == reflect.Struct:
			if err := envWalk(key, f, lookup); err != nil {
				return err
			}
			continue
		case f.Kind() == reflect.Ptr && f.Type().Elem().Kind() == reflect.Struct:
			if f.IsNil() {
				f.Set(reflect.New(f.Type().Elem()))
			}
			if err := envWalk(key, f.Elem(), lookup); err != nil {
				return err
			}
			continue
		}

		raw, ok := lookup(key)
		if !ok {
			continue
		}
		if err := setFromString(f, raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// setFromString parses raw into f. Durations use time.ParseDuration syntax
// ("250us", "2ms"); slices are comma separated.
func setFromString(f reflect.Value, raw string) error {
	if f.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration value %q", raw)
		}
		f.SetInt(int64(d))
		return nil
	}

	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, f.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer value %q", raw)
		}
		f.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, f.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value %q", raw)
		}
		f.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(raw, f.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float value %q", raw)
		}
		f.SetFloat(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean value %q", raw)
		}
		f.SetBool(b)
	case reflect.Slice:
		parts := strings.Split(raw, ",")
		out := reflect.MakeSlice(f.Type(), len(parts), len(parts))
		for i, part := range parts {
			if err := setFromString(out.Index(i), strings.TrimSpace(part)); err != nil {
				return err
			}
		}
		f.Set(out)
	default:
		return fmt.Errorf("unsupported field type: %s", f.Kind())
	}
	return nil
}

// Validate runs validators in order and returns the first failure.
func Validate(config interface{}, validators ...Validator) error {
	for _, validator := range validators {
		if err := validator.Validate(config); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}
