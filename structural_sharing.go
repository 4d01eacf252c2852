package qcache

import "reflect"

// ReplaceEqualDeep returns prev if next is deep-equal to it, otherwise a
// value built from next with any deep-equal subtrees (by map key / slice
// index / struct field) replaced by their counterpart from prev, so
// memoized consumers downstream keep their reference identity for the
// parts that did not actually change. Funcs, channels and unexported
// struct fields are left as-is (reflection cannot safely compare/copy
// unexported fields across packages).
func ReplaceEqualDeep(prev, next any) any {
	if prev == nil || next == nil {
		return next
	}
	pv := reflect.ValueOf(prev)
	nv := reflect.ValueOf(next)
	if pv.Type() != nv.Type() {
		return next
	}
	out, _ := replaceEqualDeep(pv, nv)
	if !out.IsValid() {
		return next
	}
	return out.Interface()
}

// replaceEqualDeep returns (value, equal). equal reports whether next was
// entirely deep-equal to prev at this node (letting the caller reuse prev's
// own reference rather than a freshly-built-but-equal copy).
func replaceEqualDeep(prev, next reflect.Value) (reflect.Value, bool) {
	switch next.Kind() {
	case reflect.Map:
		if prev.IsNil() || next.IsNil() {
			return next, prev.IsNil() == next.IsNil() && reflect.DeepEqual(prev.Interface(), next.Interface())
		}
		if next.Len() != prev.Len() {
			return next, false
		}
		out := reflect.MakeMapWithSize(next.Type(), next.Len())
		allEqual := true
		for _, k := range next.MapKeys() {
			nval := next.MapIndex(k)
			pval := prev.MapIndex(k)
			if !pval.IsValid() {
				out.SetMapIndex(k, nval)
				allEqual = false
				continue
			}
			merged, eq := replaceEqualDeep(pval, nval)
			if !eq {
				allEqual = false
			}
			out.SetMapIndex(k, merged)
		}
		if allEqual {
			return prev, true
		}
		return out, false

	case reflect.Slice, reflect.Array:
		if next.Kind() == reflect.Slice && (prev.IsNil() || next.IsNil()) {
			return next, prev.IsNil() == next.IsNil() && reflect.DeepEqual(prev.Interface(), next.Interface())
		}
		if next.Len() != prev.Len() {
			return next, false
		}
		var out reflect.Value
		if next.Kind() == reflect.Slice {
			out = reflect.MakeSlice(next.Type(), next.Len(), next.Len())
		} else {
			out = reflect.New(next.Type()).Elem()
		}
		allEqual := true
		for i := 0; i < next.Len(); i++ {
			merged, eq := replaceEqualDeep(prev.Index(i), next.Index(i))
			if !eq {
				allEqual = false
			}
			out.Index(i).Set(merged)
		}
		if allEqual {
			return prev, true
		}
		return out, false

	case reflect.Ptr:
		if next.IsNil() || prev.IsNil() {
			eq := next.IsNil() && prev.IsNil()
			return next, eq
		}
		merged, eq := replaceEqualDeep(prev.Elem(), next.Elem())
		if eq {
			return prev, true
		}
		out := reflect.New(next.Type().Elem())
		out.Elem().Set(merged)
		return out, false

	case reflect.Struct:
		if !next.CanInterface() || !prev.CanInterface() {
			return next, false
		}
		out := reflect.New(next.Type()).Elem()
		allEqual := true
		for i := 0; i < next.NumField(); i++ {
			nf := next.Field(i)
			if !nf.CanInterface() {
				// Unexported field: cannot safely compare/copy, always
				// treat the struct as changed and keep next as-is.
				return next, false
			}
			merged, eq := replaceEqualDeep(prev.Field(i), nf)
			if !eq {
				allEqual = false
			}
			out.Field(i).Set(merged)
		}
		if allEqual {
			return prev, true
		}
		return out, false

	case reflect.Interface:
		if next.IsNil() || prev.IsNil() {
			return next, next.IsNil() && prev.IsNil()
		}
		merged, eq := replaceEqualDeep(prev.Elem(), next.Elem())
		return merged, eq

	default:
		if !next.CanInterface() || !prev.CanInterface() {
			return next, false
		}
		eq := reflect.DeepEqual(prev.Interface(), next.Interface())
		if eq {
			return prev, true
		}
		return next, false
	}
}
