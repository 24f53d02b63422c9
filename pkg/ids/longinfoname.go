package ids

import (
	"reflect"
	"regexp"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.]`)

// LongInfoName builds an extended identifier string for a value, including
// its package path and type name, for use in log fields and panic
// messages: a crash report should say what kind of value broke things
// even when the value itself cannot be printed safely.
func LongInfoName(x any) string {
	return longInfoName(x, true)
}

func longInfoName(x any, dropUnsafe bool) string {
	if x == nil {
		return "builtins.nil"
	}

	t := reflect.TypeOf(x)
	name := longTypeName(t)

	if dropUnsafe {
		name = unsafeChars.ReplaceAllString(name, "_")
	}
	return name
}

func longTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "builtins." + t.Kind().String()
	}

	pkg := t.PkgPath()
	name := t.Name()
	if name == "" {
		return t.String()
	}
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}
