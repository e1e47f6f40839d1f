package typedRoaring

import (
	"golang.org/x/exp/constraints"
)

// Types that can be stored losslessly as roaring bits.
type BitConstraint interface {
	constraints.Integer
}
