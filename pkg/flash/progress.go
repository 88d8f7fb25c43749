package flash

import "time"

// Progress is the collaborator the engine reports phase-boundary events to
// (spec.md §4.4.5). A caller not interested in progress can pass NoProgress.
type Progress interface {
	Initialized(layout *FlashLayout)

	StartedFilling()
	PageFilled(size uint32, elapsed time.Duration)
	FailedFilling()
	FinishedFilling()

	StartedErasing()
	SectorErased(size uint32, elapsed time.Duration)
	FailedErasing()
	FinishedErasing()

	StartedProgramming()
	PageProgrammed(size uint32, elapsed time.Duration)
	FailedProgramming()
	FinishedProgramming()
}

// noProgress implements Progress with no-ops.
type noProgress struct{}

// NoProgress is a Progress that discards every event.
var NoProgress Progress = noProgress{}

func (noProgress) Initialized(*FlashLayout)             {}
func (noProgress) StartedFilling()                      {}
func (noProgress) PageFilled(uint32, time.Duration)     {}
func (noProgress) FailedFilling()                       {}
func (noProgress) FinishedFilling()                     {}
func (noProgress) StartedErasing()                      {}
func (noProgress) SectorErased(uint32, time.Duration)   {}
func (noProgress) FailedErasing()                       {}
func (noProgress) FinishedErasing()                     {}
func (noProgress) StartedProgramming()                  {}
func (noProgress) PageProgrammed(uint32, time.Duration) {}
func (noProgress) FailedProgramming()                   {}
func (noProgress) FinishedProgramming()                 {}
