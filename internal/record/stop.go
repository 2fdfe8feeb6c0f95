package record

import "fmt"

// StopID classifies why a trajectory ended.
type StopID int

const (
	StopNotCategorized    StopID = 0
	StopNotFinished       StopID = -1
	StopHitBoundaries     StopID = -2
	StopIntegrationError  StopID = -3
	StopDecayed           StopID = -4
	StopNoInitialPosition StopID = -5
	StopCollisionError    StopID = -6
	StopMaterialError     StopID = -7
	StopAbsorbedBulk      StopID = 1
	StopAbsorbedSurface   StopID = 2
)

var stopNames = map[StopID]string{
	StopNotCategorized:    "not categorized",
	StopNotFinished:       "did not finish",
	StopHitBoundaries:     "hit outer boundary",
	StopIntegrationError:  "trajectory-integration error",
	StopDecayed:           "decayed",
	StopNoInitialPosition: "no initial position found",
	StopCollisionError:    "geometry collision-detection error",
	StopMaterialError:     "material-boundary tracking error",
	StopAbsorbedBulk:      "absorbed in bulk material",
	StopAbsorbedSurface:   "absorbed on surface",
}

// StopIDs lists the known codes in table order.
func StopIDs() []StopID {
	return []StopID{
		StopNotCategorized,
		StopNotFinished,
		StopHitBoundaries,
		StopIntegrationError,
		StopDecayed,
		StopNoInitialPosition,
		StopCollisionError,
		StopMaterialError,
		StopAbsorbedBulk,
		StopAbsorbedSurface,
	}
}

func (s StopID) Known() bool {
	_, ok := stopNames[s]
	return ok
}

func (s StopID) String() string {
	if name, ok := stopNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}
