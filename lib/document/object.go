package document

// IDField is the name of the identity field every stored document carries.
const IDField = "_id"

// Object is an ordered mapping from field name to Value.
// Field order is the order of first insertion; overwriting a field keeps its position.
//
// Thread-safety: Object is not safe for concurrent mutation.
type Object struct {
	keys   []string
	fields map[string]Value
}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{fields: make(map[string]Value)}
}

// Len returns the number of fields. A nil object has no fields.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.fields[key]
	return v, ok
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Set stores v under key, appending key if it is new.
func (o *Object) Set(key string, v Value) *Object {
	if o.fields == nil {
		o.fields = make(map[string]Value)
	}
	if _, ok := o.fields[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = v
	return o
}

// SetFront stores v under key and moves key to the first position.
func (o *Object) SetFront(key string, v Value) *Object {
	o.Delete(key)
	if o.fields == nil {
		o.fields = make(map[string]Value)
	}
	o.keys = append([]string{key}, o.keys...)
	o.fields[key] = v
	return o
}

// Delete removes key and reports whether it was present.
func (o *Object) Delete(key string) bool {
	if o == nil {
		return false
	}
	if _, ok := o.fields[key]; !ok {
		return false
	}
	delete(o.fields, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns a copy of the field names in order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, len(o.keys))
	copy(keys, o.keys)
	return keys
}

// Range calls fn for every field in order until fn returns false.
func (o *Object) Range(fn func(key string, v Value) bool) {
	if o == nil {
		return
	}
	for _, k := range o.keys {
		if !fn(k, o.fields[k]) {
			return
		}
	}
}

// Clone returns a deep copy. Cloning nil yields nil.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := &Object{
		keys:   make([]string, len(o.keys)),
		fields: make(map[string]Value, len(o.fields)),
	}
	copy(c.keys, o.keys)
	for k, v := range o.fields {
		c.fields[k] = v.Clone()
	}
	return c
}

// ID returns the string _id of the object, if present.
func (o *Object) ID() (string, bool) {
	v, ok := o.Get(IDField)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// String renders the object as compact JSON.
func (o *Object) String() string {
	return string(appendObject(nil, o))
}

// MarshalJSON implements json.Marshaler.
func (o *Object) MarshalJSON() ([]byte, error) {
	return appendObject(nil, o), nil
}

// UnmarshalJSON implements json.Unmarshaler. The input must be a JSON object.
func (o *Object) UnmarshalJSON(data []byte) error {
	parsed, err := ParseObject(data)
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}
