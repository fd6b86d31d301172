package sim

// Alignment is a fixed political stance on an ordered spectrum. The order
// matters: distance between two alignments is the absolute difference of
// their positions and feeds the veto and whip probability models.
type Alignment string

const (
	AlignProgressive  Alignment = "progressive"
	AlignModerate     Alignment = "moderate"
	AlignConservative Alignment = "conservative"
	AlignLibertarian  Alignment = "libertarian"
	AlignTechnocrat   Alignment = "technocrat"
)

var spectrum = []Alignment{
	AlignProgressive,
	AlignModerate,
	AlignConservative,
	AlignLibertarian,
	AlignTechnocrat,
}

func Alignments() []Alignment {
	out := make([]Alignment, len(spectrum))
	copy(out, spectrum)
	return out
}

func (a Alignment) Valid() bool {
	for _, s := range spectrum {
		if a == s {
			return true
		}
	}
	return false
}

func (a Alignment) index() int {
	for i, s := range spectrum {
		if a == s {
			return i
		}
	}
	return -1
}

// AlignmentDistance returns the integer distance between two alignments on
// the spectrum. Unknown alignments are treated as maximally distant.
func AlignmentDistance(a, b Alignment) int {
	ai, bi := a.index(), b.index()
	if ai < 0 || bi < 0 {
		return len(spectrum) - 1
	}
	if ai > bi {
		return ai - bi
	}
	return bi - ai
}
