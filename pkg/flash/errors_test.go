package flash

import (
	"errors"
	"testing"
)

func TestEraseFailedErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("wait exhausted")
	err := &EraseFailedError{SectorAddr: 0x1000, Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find the wrapped cause")
	}
	if err.Error() == "" {
		t.Error("Error() returned an empty string")
	}
}

func TestPageWriteErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("routine call failed")
	err := &PageWriteError{PageAddr: 0x2000, Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find the wrapped cause")
	}
}

func TestRoutineCallFailedErrorMessage(t *testing.T) {
	err := &RoutineCallFailedError{Name: "program_page", Code: 7}
	if err.Error() == "" {
		t.Error("Error() returned an empty string")
	}
}
