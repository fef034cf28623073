package layer

import "fmt"

// Layer is one opened layer root. Index 0 is the upper layer; higher indexes
// are lower layers ordered highest-priority first. A Layer is immutable for
// the duration of a run.
type Layer struct {
	// Root is the layer's directory on the host, for reporting.
	Root string

	// FS provides access to the layer's tree.
	FS FS

	// Index is the layer's position in the original stack.
	Index int

	// ReadOnly marks layers that must not be repaired.
	ReadOnly bool
}

// String identifies the layer in findings and log output.
func (l *Layer) String() string {
	if l.Index == 0 {
		return "upper"
	}
	return fmt.Sprintf("lower-%d", l.Index)
}

// Set is the ordered stack of layers under check.
type Set struct {
	layers []*Layer
}

// NewSet builds a Set from layers ordered upper first.
func NewSet(layers ...*Layer) *Set {
	return &Set{layers: layers}
}

// Len returns the number of layers.
func (s *Set) Len() int {
	return len(s.layers)
}

// At returns the layer at position i within this set.
func (s *Set) At(i int) *Layer {
	return s.layers[i]
}

// Upper returns the top layer of this set.
func (s *Set) Upper() *Layer {
	return s.layers[0]
}

// Lowers returns all layers below the top one, highest priority first.
func (s *Set) Lowers() []*Layer {
	return s.layers[1:]
}

// Stack returns the sub-stack in which the layer at position i acts as the
// upper layer and everything below it as its lowers. Layer indexes keep
// their original values so findings stay attributable.
func (s *Set) Stack(i int) *Set {
	return &Set{layers: s.layers[i:]}
}
