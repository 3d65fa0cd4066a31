// Package tui provides the live progress display for matrix runs.
//
// The display is read-only: it lists every selected environment with its
// lifecycle state, a spinner while it is in flight and its status once it
// completes, followed by a short activity log. When the run finishes the
// rendered report replaces the table. Users can only quit with 'q' or Ctrl+C.
//
// Usage:
//
//	emitter := matrix.NewEventEmitter(256, logger)
//	program, app := tui.NewProgressProgram(emitter.Events())
//	go func() {
//	    rep := runner.Run(ctx, reg)
//	    emitter.Close()
//	    _ = rep
//	}()
//	if _, err := program.Run(); err != nil { ... }
//	if app.Cancelled() { cancel() }
package tui
