package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// secretField points at a string field tagged secret, named by its Go path ("Session.SigningKey").
type secretField struct {
	path  string
	value *string
}

// decode fills the env-tagged fields of the struct behind target. It returns the secret fields for
// resolution and the paths of fields whose value could not be parsed.
func decode(src source, target any) (secrets []secretField, malformed []string) {
	var walk func(v reflect.Value, prefix string)
	walk = func(v reflect.Value, prefix string) {
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field, value := t.Field(i), v.Field(i)
			path := prefix + field.Name
			if field.Type.Kind() == reflect.Struct && field.Type != durationType {
				walk(value, path+".")
				continue
			}
			tag, ok := field.Tag.Lookup("env")
			if !ok {
				continue
			}
			name, mods, _ := strings.Cut(tag, ",")
			raw, found := src.lookup(name)
			if !found || raw == "" {
				raw = field.Tag.Get("default")
			}
			if mods == "lower" {
				raw = strings.ToLower(raw)
			}
			if !assign(value, raw) {
				malformed = append(malformed, path)
			}
			if field.Tag.Get("secret") == "true" && value.Kind() == reflect.String {
				secrets = append(secrets, secretField{path: path, value: value.Addr().Interface().(*string)})
			}
		}
	}
	walk(reflect.ValueOf(target).Elem(), "")
	return secrets, malformed
}

func assign(v reflect.Value, raw string) bool {
	raw = strings.TrimSpace(raw)
	if v.Type() == durationType {
		if raw == "" {
			return true
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return false
		}
		v.SetInt(int64(d))
		return true
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int:
		if raw == "" {
			return true
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return false
		}
		v.SetInt(int64(n))
	case reflect.Bool:
		switch strings.ToLower(raw) {
		case "true", "1", "yes", "on":
			v.SetBool(true)
		case "", "false", "0", "no", "off":
			v.SetBool(false)
		default:
			return false
		}
	case reflect.Slice:
		items := []string{}
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		v.Set(reflect.ValueOf(items))
	default:
		return false
	}
	return true
}
