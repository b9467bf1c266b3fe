package prompt

import (
	"bytes"
	"encoding/json"
)

// Optional tracks whether a request field was supplied. A missing field and
// an explicit JSON null both decode as unset.
type Optional[T any] struct {
	Value T
	Set   bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// Or returns the value if set, otherwise def.
func (o Optional[T]) Or(def T) T {
	if o.Set {
		return o.Value
	}
	return def
}

// Override returns by when it is set and o otherwise.
func (o Optional[T]) Override(by Optional[T]) Optional[T] {
	if by.Set {
		return by
	}
	return o
}

// IsZero lets `omitzero` drop unset fields when encoding.
func (o Optional[T]) IsZero() bool {
	return !o.Set
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		o.Value, o.Set = zero, false
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Set = true
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}
