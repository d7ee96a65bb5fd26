package domain

// Side is a starting side on a map
type Side string

const (
	SideCT Side = "CT"
	SideT  Side = "T"
)

// Other returns the opposite side
func (s Side) Other() Side {
	if s == SideCT {
		return SideT
	}
	return SideCT
}

// StepType distinguishes map steps from side steps
type StepType string

const (
	StepMap  StepType = "MAP"
	StepSide StepType = "SIDE"
)

// StepMode is how a step resolves
type StepMode string

const (
	// Map step modes
	ModeBan        StepMode = "BAN"         // deciding team removes a map from the pool
	ModePick       StepMode = "PICK"        // deciding team names a map from the pool
	ModeRandomPick StepMode = "RANDOM_PICK" // a map is drawn from the remaining pool
	ModeFixedMap   StepMode = "FIXED"       // map named in the step itself

	// Side step modes
	ModeKnife     StepMode = "KNIFE"      // knife round winner chooses
	ModeSidePick  StepMode = "SIDE_PICK"  // deciding team chooses directly
	ModeFixedSide StepMode = "FIXED_SIDE" // side named in the step itself
)

// ElectionStep is one unit of map-ban/map-pick/side-pick negotiation.
// The election engine is the only writer of the outcome fields; a resolved
// step is immutable.
type ElectionStep struct {
	Type StepType `json:"type"`
	Mode StepMode `json:"mode"`
	// Who decides (BAN, PICK, SIDE_PICK). Empty for RANDOM_PICK, KNIFE, FIXED*.
	Who TeamKey `json:"who,omitempty"`
	// Fixed carries the predetermined map name (FIXED) or side (FIXED_SIDE)
	Fixed string `json:"fixed,omitempty"`

	// Outcome, written once on resolution
	Resolved bool   `json:"resolved"`
	Map      string `json:"map,omitempty"`  // resolved map (MAP steps)
	Side     Side   `json:"side,omitempty"` // side team A starts on (SIDE steps)
}
