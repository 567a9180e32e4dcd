package raw

// Resolver resolves indirect references to their objects.
type Resolver interface {
	Resolve(ref ObjectRef) (Object, error)
}

// DocumentResolver resolves references against a parsed document's object map.
type DocumentResolver struct{ Doc *Document }

func (r DocumentResolver) Resolve(ref ObjectRef) (Object, error) {
	if obj, ok := r.Doc.Objects[ref]; ok {
		return obj, nil
	}
	return nil, &MissingObjectError{Ref: ref}
}

type MissingObjectError struct{ Ref ObjectRef }

func (e *MissingObjectError) Error() string { return "object " + e.Ref.String() + " not found" }

// Deref follows an indirect reference, returning the resolved object. Plain
// objects pass through unchanged; unresolvable references yield nil.
func Deref(obj Object, r Resolver) Object {
	const maxHops = 32
	for hops := 0; hops < maxHops; hops++ {
		ref, ok := obj.(Reference)
		if !ok {
			return obj
		}
		if r == nil {
			return nil
		}
		resolved, err := r.Resolve(ref.Ref())
		if err != nil {
			return nil
		}
		obj = resolved
	}
	return nil
}

// DerefDict dereferences obj and returns it as a dictionary. Streams expose
// their dictionary.
func DerefDict(obj Object, r Resolver) (*DictObj, bool) {
	switch v := Deref(obj, r).(type) {
	case *DictObj:
		return v, true
	case *StreamObj:
		return v.Dict, v.Dict != nil
	default:
		return nil, false
	}
}

// DerefArray dereferences obj and returns it as an array.
func DerefArray(obj Object, r Resolver) (*ArrayObj, bool) {
	arr, ok := Deref(obj, r).(*ArrayObj)
	return arr, ok
}

// DerefStream dereferences obj and returns it as a stream.
func DerefStream(obj Object, r Resolver) (*StreamObj, bool) {
	st, ok := Deref(obj, r).(*StreamObj)
	return st, ok
}

// DictName returns the string value of a name entry.
func DictName(d Dictionary, key string, r Resolver) (string, bool) {
	if d == nil {
		return "", false
	}
	v, ok := d.Get(NameLiteral(key))
	if !ok {
		return "", false
	}
	if n, ok := Deref(v, r).(NameObj); ok {
		return n.Val, true
	}
	return "", false
}

// DictInt returns the integer value of a numeric entry.
func DictInt(d Dictionary, key string, r Resolver) (int64, bool) {
	if d == nil {
		return 0, false
	}
	v, ok := d.Get(NameLiteral(key))
	if !ok {
		return 0, false
	}
	if n, ok := Deref(v, r).(NumberObj); ok {
		return n.Int(), true
	}
	return 0, false
}

// DictFloat returns the float value of a numeric entry.
func DictFloat(d Dictionary, key string, r Resolver) (float64, bool) {
	if d == nil {
		return 0, false
	}
	v, ok := d.Get(NameLiteral(key))
	if !ok {
		return 0, false
	}
	if n, ok := Deref(v, r).(NumberObj); ok {
		return n.Float(), true
	}
	return 0, false
}

// DictBool returns the value of a boolean entry.
func DictBool(d Dictionary, key string, r Resolver) (bool, bool) {
	if d == nil {
		return false, false
	}
	v, ok := d.Get(NameLiteral(key))
	if !ok {
		return false, false
	}
	if b, ok := Deref(v, r).(BoolObj); ok {
		return b.V, true
	}
	return false, false
}

// DictString returns the bytes of a string entry.
func DictString(d Dictionary, key string, r Resolver) ([]byte, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.Get(NameLiteral(key))
	if !ok {
		return nil, false
	}
	if s, ok := Deref(v, r).(StringObj); ok {
		return s.Bytes, true
	}
	return nil, false
}
