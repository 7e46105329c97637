package mapper

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// memberKey identifies one (type, member name) lookup.
type memberKey struct {
	typ  reflect.Type
	name string
}

// member is the memoized access path for a struct member: either an
// exported field or a no-argument getter method.
type member struct {
	fieldIndex  []int
	methodIndex int
	found       bool
}

// memberCache memoizes struct member discovery for the process
// lifetime. Responses share types across evaluations, so repeated
// lookups hit the cache.
var memberCache sync.Map

// ClearCache drops all memoized reflection metadata.
func ClearCache() {
	memberCache.Range(func(k, _ interface{}) bool {
		memberCache.Delete(k)
		return true
	})
}

// property reads a named member from value. It handles maps with string
// keys, typed structs (fields and getters) and pointers to either.
// found=false means the container has no such member; a nil container
// is reported via the ok return.
func property(value interface{}, name string) (result interface{}, found bool, err error) {
	if value == nil {
		return nil, false, errNilContainer
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false, errNilContainer
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false, fmt.Errorf("map key type %s is not a string", rv.Type().Key())
		}
		item := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !item.IsValid() {
			return nil, false, errMapKeyMissing
		}
		return item.Interface(), true, nil

	case reflect.Struct:
		m := lookupMember(rv.Type(), name)
		if !m.found {
			return nil, false, nil
		}
		if m.fieldIndex != nil {
			return rv.FieldByIndex(m.fieldIndex).Interface(), true, nil
		}
		out := rv.Method(m.methodIndex).Call(nil)
		return out[0].Interface(), true, nil
	}

	return nil, false, fmt.Errorf("cannot read property of %T", value)
}

var (
	errNilContainer  = fmt.Errorf("container is null")
	errMapKeyMissing = fmt.Errorf("map key missing")
)

// lookupMember resolves name against a struct type: an exported field
// with a case-insensitive name match, a matching json tag, or a getter
// method Name()/GetName() taking no arguments and returning one value.
func lookupMember(t reflect.Type, name string) member {
	key := memberKey{typ: t, name: name}
	if cached, ok := memberCache.Load(key); ok {
		return cached.(member)
	}

	m := discoverMember(t, name)
	memberCache.Store(key, m)
	return m
}

func discoverMember(t reflect.Type, name string) member {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName := strings.Split(tag, ",")[0]
			if tagName == name {
				return member{fieldIndex: f.Index, found: true}
			}
		}
		if strings.EqualFold(f.Name, name) {
			return member{fieldIndex: f.Index, found: true}
		}
	}

	for _, candidate := range []string{name, "Get" + name} {
		for i := 0; i < t.NumMethod(); i++ {
			meth := t.Method(i)
			if !strings.EqualFold(meth.Name, candidate) {
				continue
			}
			if meth.Type.NumIn() == 1 && meth.Type.NumOut() == 1 {
				return member{fieldIndex: nil, methodIndex: i, found: true}
			}
		}
	}
	return member{}
}

// asList returns value as a slice of elements, unwrapping pointers and
// interfaces.
func asList(value interface{}) ([]interface{}, bool) {
	if value == nil {
		return nil, false
	}
	if list, ok := value.([]interface{}); ok {
		return list, true
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
