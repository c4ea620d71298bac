package gojs

import "errors"

var (
	// ErrNotLoaded is returned when Run is called before a guest is bound.
	ErrNotLoaded = errors.New("gojs: module is not loaded")

	// ErrAlreadyRunning is returned by a Run that overlaps another Run on the
	// same engine.
	ErrAlreadyRunning = errors.New("gojs: module is already running")

	// ErrExited is returned when Run is called after the guest has exited.
	ErrExited = errors.New("gojs: module has exited")

	// ErrInterrupted is returned when Run is called after an earlier Run
	// aborted with the guest still suspended mid-program.
	ErrInterrupted = errors.New("gojs: module run was interrupted")

	// ErrCallbackAfterExit reports a timer or host callback that resolved
	// after the guest exited.
	ErrCallbackAfterExit = errors.New("gojs: callback resolved after module exit")
)
