package wqi

import "fmt"

// BoundKind tags which sides of a Bound are enforced.
type BoundKind int

const (
	KindTwoSided BoundKind = iota
	KindUpper
	KindLower
)

func (k BoundKind) String() string {
	switch k {
	case KindTwoSided:
		return "two_sided"
	case KindUpper:
		return "upper"
	case KindLower:
		return "lower"
	}
	return fmt.Sprintf("BoundKind(%d)", int(k))
}

// Bound is an acceptable range for one parameter. Build one with TwoSided,
// UpperOnly or LowerOnly.
type Bound struct {
	Kind  BoundKind
	Lower float64
	Upper float64
}

func TwoSided(lo, hi float64) Bound { return Bound{Kind: KindTwoSided, Lower: lo, Upper: hi} }
func UpperOnly(hi float64) Bound    { return Bound{Kind: KindUpper, Upper: hi} }
func LowerOnly(lo float64) Bound    { return Bound{Kind: KindLower, Lower: lo} }

// Check reports whether v violates the bound and, if so, which threshold
// it crossed and whether that threshold is an upper bound.
func (b Bound) Check(v float64) (threshold float64, upper bool, violated bool) {
	switch b.Kind {
	case KindTwoSided:
		if v > b.Upper {
			return b.Upper, true, true
		}
		if v < b.Lower {
			return b.Lower, false, true
		}
	case KindUpper:
		if v > b.Upper {
			return b.Upper, true, true
		}
	case KindLower:
		if v < b.Lower {
			return b.Lower, false, true
		}
	}
	return 0, false, false
}

func (b Bound) String() string {
	switch b.Kind {
	case KindTwoSided:
		return fmt.Sprintf("[%g, %g]", b.Lower, b.Upper)
	case KindUpper:
		return fmt.Sprintf("<= %g", b.Upper)
	case KindLower:
		return fmt.Sprintf(">= %g", b.Lower)
	}
	return b.Kind.String()
}

// Threshold binds a parameter name to its bound.
type Threshold struct {
	Parameter string
	Bound     Bound
}

// Reference is the ordered set of thresholds a group is scored against.
type Reference []Threshold

// Parameters returns the parameter names in reference order.
func (r Reference) Parameters() []string {
	out := make([]string, len(r))
	for i, t := range r {
		out[i] = t.Parameter
	}
	return out
}

// DefaultReference is the reference set used for river monitoring when no
// thresholds file is configured.
func DefaultReference() Reference {
	return Reference{
		{"pH", TwoSided(6.5, 8.5)},
		{"EC", UpperOnly(1200)},
		{"TA", UpperOnly(150)},
		{"Cl", TwoSided(150, 650)},
		{"TDS", UpperOnly(2100)},
		{"TSS", UpperOnly(150)},
		{"DO", LowerOnly(5)},
		{"BOD", UpperOnly(6)},
		{"COD", UpperOnly(200)},
		{"Turb", UpperOnly(10)},
	}
}
