package sensor

import (
	"reflect"
	"strings"
)

// Entry is one named field of a reading.
type Entry struct {
	Name  string
	Value any
	OK    bool
}

type anyField interface {
	Any() (any, bool)
}

var anyFieldType = reflect.TypeOf((*anyField)(nil)).Elem()

// Flatten lists the Fields of a reading struct in declaration order, named
// by their json tags. Nested structs are walked with their tag as a prefix,
// "battery.voltage" for example.
func Flatten(reading any) []Entry {
	v := reflect.ValueOf(reading)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	var entries []Entry
	flatten(v, "", &entries)
	return entries
}

func flatten(v reflect.Value, prefix string, entries *[]Entry) {
	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := fieldName(sf)
		if name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		fv := v.Field(i)
		if sf.Type.Implements(anyFieldType) {
			value, ok := fv.Interface().(anyField).Any()
			*entries = append(*entries, Entry{Name: name, Value: value, OK: ok})
			continue
		}
		if sf.Type.Kind() == reflect.Struct {
			flatten(fv, name, entries)
		}
	}
}

func fieldName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if tag == "" {
		return sf.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return sf.Name
	}
	return name
}

// Values returns the available fields of a reading keyed by name.
func Values(reading any) map[string]any {
	out := map[string]any{}
	for _, e := range Flatten(reading) {
		if e.OK {
			out[e.Name] = e.Value
		}
	}
	return out
}
