package portal

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

var unsafeDescriptorChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// buildDescriptor creates a short, human-readable summary of a value's type
// and shape, used as the human-readable half of a HashAddr. Slices, maps,
// arrays, and strings get a "_len_N" suffix; everything else is just the
// lowercased type name.
func buildDescriptor(x any) string {
	if x == nil {
		return "nil"
	}
	t := reflect.TypeOf(x)
	name := strings.ToLower(shortTypeName(t))

	v := reflect.ValueOf(x)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		name = fmt.Sprintf("%s_len_%d", name, v.Len())
	}

	return unsafeDescriptorChars.ReplaceAllString(name, "_")
}

func shortTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.Kind().String()
}
