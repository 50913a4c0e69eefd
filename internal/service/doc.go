// Package service drives one worker process from the first request line to
// the exit code.
//
// Overview
// A Worker reads the first line of its input. A decode failure is answered
// with an error event right away. A first `terminate` means there is nothing
// to clean up, so it is answered with `{"cleaned":true}`. An `execute` starts a
// controller.Controller which owns the rest of the input and listens there for
// a second `terminate`.
//
// Data flow:
//
//	stdin --> protocol.Lines --> Worker.Do --+--> controller.Run --> protocol.Encoder --> stdout
//	                 |                       |          |
//	                 +----- listener <-------+          +--> callback.Reporter --> monitor
//
// Invariants:
//   - `progress 0 "Starting..."` is the first line written.
//   - Exactly one terminal line (result or error) is written and it is the last.
//   - The exit code is derived from the terminal line only.
//   - Callbacks never delay or change the outcome; they are drained for at most
//     callback.drain after the terminal line is written.
//
// internal/service/worker_test.go shows the complete protocol exchanges.
package service
