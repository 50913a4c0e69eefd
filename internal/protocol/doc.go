// Package protocol implements the action protocol spoken over stdin and stdout.
//
// Requests are JSON objects, one per line, carrying an `_action` ("execute" or
// "terminate") and an optional `_meta` object. All other top level fields are
// action parameters; fields starting with an underscore are reserved.
//
// Events are written one JSON object per line with a `type` discriminator:
//
//	{"type":"progress","percent":50,"message":"Transforming data..."}
//	{"type":"result","data":{...}}
//	{"type":"error","code":"TERMINATED","message":"..."}
//
// Every event is flushed as soon as it is written. The result or error event is
// terminal: an Encoder refuses to write anything after it.
package protocol
