package repository

import (
	"reflect"
	"strconv"
	"strings"
	"time"
)

// fieldSet describes the persisted shape of a document type as the bson
// codec sees it. A nil fields map with open unset is a scalar leaf.
type fieldSet struct {
	fields map[string]*fieldSet
	// open accepts any sub-path (maps, interfaces, recursive types)
	open bool
	// list accepts a numeric index before the element's own sub-path
	list bool
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	primitivePkg = "go.mongodb.org/mongo-driver/bson/primitive"
)

func fieldsOf(t reflect.Type) *fieldSet {
	return describe(t, map[reflect.Type]bool{})
}

func describe(t reflect.Type, seen map[reflect.Type]bool) *fieldSet {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Map, reflect.Interface:
		return &fieldSet{open: true}
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return &fieldSet{}
		}
		elem := describe(t.Elem(), seen)
		return &fieldSet{fields: elem.fields, open: elem.open, list: true}
	case reflect.Struct:
		if t == timeType || t.PkgPath() == primitivePkg {
			return &fieldSet{}
		}
	default:
		return &fieldSet{}
	}

	if seen[t] {
		return &fieldSet{open: true}
	}
	seen[t] = true
	defer delete(seen, t)

	fs := &fieldSet{fields: map[string]*fieldSet{}}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() && !sf.Anonymous {
			continue
		}
		name, inline := parseTag(sf)
		if name == "-" {
			continue
		}
		child := describe(sf.Type, seen)
		if inline {
			if child.open {
				fs.open = true
			}
			for k, v := range child.fields {
				fs.fields[k] = v
			}
			continue
		}
		fs.fields[name] = child
	}
	return fs
}

// parseTag follows the mongo driver's default struct tag rules: the key
// defaults to the lower-cased field name.
func parseTag(sf reflect.StructField) (name string, inline bool) {
	tag, ok := sf.Tag.Lookup("bson")
	if !ok && !strings.Contains(string(sf.Tag), ":") && len(sf.Tag) > 0 {
		tag = string(sf.Tag)
	}
	if tag == "-" {
		return "-", false
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	for _, opt := range parts[1:] {
		if opt == "inline" {
			inline = true
		}
	}
	if name == "" {
		name = strings.ToLower(sf.Name)
	}
	return name, inline
}

// has reports whether a dotted path addresses a field of the set.
func (fs *fieldSet) has(path string) bool {
	if path == "" {
		return false
	}
	cur := fs
	segs := strings.Split(path, ".")
	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		if seg == "" {
			return false
		}
		if cur.open {
			return true
		}
		if cur.list {
			if _, err := strconv.Atoi(seg); err == nil {
				cur = &fieldSet{fields: cur.fields, open: cur.open}
				continue
			}
		}
		next, ok := cur.fields[seg]
		if !ok {
			return false
		}
		cur = next
	}
	return true
}
