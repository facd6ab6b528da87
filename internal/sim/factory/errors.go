package factory

import "errors"

// Construction-time errors. Nothing on the tick path returns an error.
var (
	ErrUnknownStation   = errors.New("unknown station")
	ErrDuplicateStation = errors.New("duplicate station id")
	ErrPositionTaken    = errors.New("grid position already occupied")
	ErrInvalidStation   = errors.New("invalid station config")
	ErrInvalidConveyor  = errors.New("invalid conveyor config")
	ErrFanIn            = errors.New("destination already fed by another conveyor")
	ErrCycle            = errors.New("conveyor would close a cycle")
	ErrNotOutput        = errors.New("station is not an output station")

	ErrPositionMismatch = errors.New("node position differs from station position")
	ErrUnknownParent    = errors.New("unknown parent node")
	ErrChildTaken       = errors.New("child slot already taken")
	ErrRootExists       = errors.New("index already has a root")
	ErrAlreadyIndexed   = errors.New("station already indexed")
)
