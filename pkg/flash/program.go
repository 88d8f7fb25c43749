package flash

import (
	"time"

	"github.com/vertexdbg/probeforge/pkg/target"
)

// ProgramOptions controls one Program call (spec.md §4.4.4).
type ProgramOptions struct {
	RestoreUnwrittenBytes bool
	EnableDoubleBuffering bool
	SkipErasing           bool
}

// Program writes builder's spans to NVM, running fill/erase/program in the
// order spec.md §4.4.4 describes. Any FlashError aborts the job immediately
// (spec.md §4.4.5); the chip may be left partially programmed.
func (f *Flasher) Program(props target.FlashProperties, builder *FlashBuilder, opts ProgramOptions, progress Progress) error {
	if progress == nil {
		progress = NoProgress
	}

	layout, err := builder.BuildLayout(props, opts.RestoreUnwrittenBytes)
	if err != nil {
		return err
	}
	progress.Initialized(layout)

	progress.StartedFilling()
	if opts.RestoreUnwrittenBytes {
		for _, fill := range layout.Fills {
			start := time.Now()
			if err := f.fillPage(layout, fill); err != nil {
				progress.FailedFilling()
				return err
			}
			progress.PageFilled(fill.Size, time.Since(start))
		}
	}
	progress.FinishedFilling()

	if !opts.SkipErasing {
		if err := f.sectorErase(layout, progress); err != nil {
			return err
		}
	}

	if f.DoubleBufferingSupported() && opts.EnableDoubleBuffering {
		return f.programDoubleBuffer(layout, progress)
	}
	return f.programSimple(layout, progress)
}

// fillPage reads a restore-unwritten span back from flash into its page's
// buffer, run through the algorithm's verify-mode init (spec.md §4.4.4
// step 2: "invoke verify-mode entry to read each fill span from flash").
func (f *Flasher) fillPage(layout *FlashLayout, fill FlashFill) error {
	page := &layout.Pages[fill.PageIndex]
	offset := fill.Address - page.Address

	if err := f.Init(opVerify, page.Address); err != nil {
		return err
	}
	defer f.uninitLogged(opVerify)

	return f.ReadFlash(fill.Address, page.Data[offset:offset+fill.Size])
}

func (f *Flasher) sectorErase(layout *FlashLayout, progress Progress) error {
	progress.StartedErasing()

	if err := f.Init(opErase, 0); err != nil {
		progress.FailedErasing()
		return err
	}
	defer f.uninitLogged(opErase)

	for _, sector := range layout.Sectors {
		start := time.Now()
		if err := f.EraseSector(sector.Address); err != nil {
			progress.FailedErasing()
			return err
		}
		progress.SectorErased(sector.Size, time.Since(start))
	}

	progress.FinishedErasing()
	return nil
}

// programSimple is the non-pipelined path: transfer then call
// program_page, one page at a time (spec.md §4.4.4 "Simple path").
func (f *Flasher) programSimple(layout *FlashLayout, progress Progress) error {
	progress.StartedProgramming()

	if err := f.Init(opProgram, 0); err != nil {
		progress.FailedProgramming()
		return err
	}
	defer f.uninitLogged(opProgram)

	for _, page := range layout.Pages {
		start := time.Now()
		if err := f.ProgramPage(page.Address, page.Data); err != nil {
			progress.FailedProgramming()
			return err
		}
		progress.PageProgrammed(uint32(len(page.Data)), time.Since(start))
	}

	progress.FinishedProgramming()
	return nil
}

// programDoubleBuffer overlaps the next page's RAM transfer with the
// current page's flash programming time, alternating between the
// algorithm's two page buffers (spec.md §4.4.4 "Double-buffer path").
func (f *Flasher) programDoubleBuffer(layout *FlashLayout, progress Progress) error {
	progress.StartedProgramming()

	if err := f.Init(opProgram, 0); err != nil {
		progress.FailedProgramming()
		return err
	}
	defer f.uninitLogged(opProgram)

	buf := 0
	var lastAddr uint32
	var lastSize uint32
	started := false
	t := time.Now()

	for _, page := range layout.Pages {
		if err := f.LoadPageBuffer(page.Data, buf); err != nil {
			progress.FailedProgramming()
			return &PageWriteError{PageAddr: page.Address, Cause: err}
		}

		if started {
			result, err := f.WaitForProgramComplete(2 * time.Second)
			if err != nil {
				progress.FailedProgramming()
				return &PageWriteError{PageAddr: lastAddr, Cause: err}
			}
			if result != 0 {
				progress.FailedProgramming()
				return &PageWriteError{PageAddr: lastAddr, Cause: &RoutineCallFailedError{Name: "program_page", Code: result}}
			}
			progress.PageProgrammed(uint32(len(page.Data)), time.Since(t))
			t = time.Now()
		}

		if err := f.StartProgramPage(page.Address, buf); err != nil {
			progress.FailedProgramming()
			return &PageWriteError{PageAddr: page.Address, Cause: err}
		}
		lastAddr = page.Address
		lastSize = uint32(len(page.Data))
		started = true
		buf = 1 - buf
	}

	if started {
		result, err := f.WaitForProgramComplete(2 * time.Second)
		if err != nil {
			progress.FailedProgramming()
			return &PageWriteError{PageAddr: lastAddr, Cause: err}
		}
		if result != 0 {
			progress.FailedProgramming()
			return &PageWriteError{PageAddr: lastAddr, Cause: &RoutineCallFailedError{Name: "program_page", Code: result}}
		}
		progress.PageProgrammed(lastSize, time.Since(t))
	}

	progress.FinishedProgramming()
	return nil
}
