package stdobjects

import "github.com/LucentFlux/wasm-gpu-go/faults"

type cellState byte

const (
	cellUnresolved cellState = iota
	cellGenerating
	cellDone
)

// cell is a one-shot, lazily-generated slot guarded by a currently-
// generating flag. Resolve never runs gen more than once; a gen that
// (transitively) calls Resolve on the same cell again is a generator
// dependency cycle - a programming bug - and is reported as faults.Internal
// instead of deadlocking or recursing.
type cell[T any] struct {
	state cellState
	name  string
	value T
	err   error
}

func (c *cell[T]) Resolve(gen func() (T, error)) (T, error) {
	switch c.state {
	case cellDone:
		return c.value, c.err
	case cellGenerating:
		var zero T
		return zero, faults.Internalf("stdobjects: slot %q resolved re-entrantly (generator cycle)", c.name)
	}
	c.state = cellGenerating
	v, err := gen()
	c.state = cellDone
	c.value, c.err = v, err
	return v, err
}
