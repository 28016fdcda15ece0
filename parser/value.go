package parser

import (
	"strconv"
	"strings"
)

// Kind is the declared type of a setting in the server configuration. Raw
// override values are coerced into this type before they are applied.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "boolean"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	default:
		return "string"
	}
}

// Field describes a single overridable setting in the server configuration.
type Field struct {
	// The environment variable that overrides this setting.
	Env string

	// The dot-notated location of the setting in the rendered document, for
	// example "WorldConfig.AllowCreativeMode".
	Path string

	Kind Kind

	// Nullable string settings are rendered as null when the override is an
	// empty string. The server treats a null Ip as "bind to every interface".
	Nullable bool

	// Secret values are never written to the log output.
	Secret bool
}

// Coerce converts a raw environment value into the declared type of the field.
// The boolean return is false when the value should be treated as if it was
// never set at all.
//
// Boolean settings only accept "true" or "false" in any letter case, any other
// value is ignored rather than being read as false. Numeric settings that fail
// to parse return a CoercionError.
func (f Field) Coerce(raw string) (interface{}, bool, error) {
	switch f.Kind {
	case KindBool:
		v := strings.TrimSpace(raw)
		if strings.EqualFold(v, "true") {
			return true, true, nil
		}
		if strings.EqualFold(v, "false") {
			return false, true, nil
		}
		return nil, false, nil
	case KindInt:
		v := strings.TrimSpace(raw)
		if v == "" {
			return nil, false, nil
		}
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, false, &CoercionError{Field: f, Value: raw, Err: err}
		}
		return i, true, nil
	case KindFloat:
		v := strings.TrimSpace(raw)
		if v == "" {
			return nil, false, nil
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, false, &CoercionError{Field: f, Value: raw, Err: err}
		}
		return n, true, nil
	default:
		if raw == "" && f.Nullable {
			return nil, true, nil
		}
		return raw, true, nil
	}
}

// Display returns the value as it should appear in log output.
func (f Field) Display(v interface{}) interface{} {
	if f.Secret {
		return "[redacted]"
	}
	if v == nil {
		return "null"
	}
	return v
}
