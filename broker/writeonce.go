package broker

import (
	"bytes"
	"encoding/json"
)

// WriteOnce holds a value that can be set exactly once. Later Set calls are
// ignored, so recorded data survives any number of updates.
type WriteOnce[T any] struct {
	value T
	set   bool
}

// Frozen returns a cell already holding v.
func Frozen[T any](v T) WriteOnce[T] {
	return WriteOnce[T]{value: v, set: true}
}

// Set stores v if the cell is empty and reports whether it did.
func (w *WriteOnce[T]) Set(v T) bool {
	if w.set {
		return false
	}
	w.value = v
	w.set = true
	return true
}

func (w WriteOnce[T]) Get() (T, bool) { return w.value, w.set }

func (w WriteOnce[T]) IsSet() bool { return w.set }

func (w WriteOnce[T]) MarshalJSON() ([]byte, error) {
	if !w.set {
		return []byte("null"), nil
	}
	return json.Marshal(w.value)
}

func (w *WriteOnce[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	w.Set(v)
	return nil
}
