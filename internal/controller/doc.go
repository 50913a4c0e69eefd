// Package controller runs one execute request to its single terminal outcome.
//
// A Controller is created Idle with a decoded model.Execute. Run moves it to
// Running and starts two goroutines:
//
//   - the task loop walks the milestones (10, 25, 50, 75, 90, 100 %), writes
//     each to the Emitter, hands it to the Reporter and waits the request delay
//     between them. After the last milestone it keeps waiting until
//     minRunSeconds passed since Run started.
//   - the listener reads further input lines. The first terminate message
//     fires the cancellation Signal and the listener ends.
//
// Every wait of the task loop selects on the Signal and on the context, so a
// cancellation ends the run within one wait interval at most. The first of
// "all milestones done and minimum runtime elapsed", "cancellation observed"
// and "shouldFail reached the 50 % milestone" decides the terminal state:
//
//	Idle -> Running -> Completed  (result)
//	                -> Failed     (SIMULATED_FAILURE)
//	                -> Terminated (TERMINATED)
//
// Terminal states are sinks. Run returns exactly one Outcome and stops and
// joins the listener before returning.
package controller
