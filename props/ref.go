package props

import (
	"context"
	"encoding/json"
	"fmt"
)

// Ref is a typed handle to a single property of a Bag. The zero Ref is not
// usable; obtain one through Define.
type Ref[T any] struct {
	bag  *Bag
	name string
}

// Define registers a new property on the bag and returns its typed handle.
// It panics if the name is empty or already defined, since property
// registration is a programming error made during entity construction.
func Define[T any](b *Bag, name string, initial T) Ref[T] {
	decode := func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}

		return v, nil
	}

	if err := b.define(name, initial, decode); err != nil {
		panic(fmt.Sprintf("props: define %s: %v", name, err))
	}

	return Ref[T]{bag: b, name: name}
}

// Name returns the property name the handle refers to.
func (r Ref[T]) Name() string {
	return r.name
}

// Get returns the stored value. It returns the zero value if the handle was
// never defined.
func (r Ref[T]) Get() T {
	var zero T
	if r.bag == nil {
		return zero
	}

	v, err := r.bag.Value(r.name)
	if err != nil {
		return zero
	}

	tv, ok := v.(T)
	if !ok {
		return zero
	}

	return tv
}

// Set stores a new value and notifies the bag observer. Writes that do not
// change the stored value are suppressed.
func (r Ref[T]) Set(ctx context.Context, value T) error {
	if r.bag == nil {
		return fmt.Errorf("%w: ref not defined", ErrUnknownProperty)
	}

	return r.bag.Set(ctx, r.name, value)
}
