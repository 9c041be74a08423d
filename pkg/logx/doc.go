// Package logx is castbot's logging layer over zerolog.
//
// Console output is human-readable, the optional file sink writes JSON, and
// records at or above a minimum level can be mirrored to a Telegram log chat
// through a rate-limited worker. Logger values derived from a Service follow
// its Apply calls, so config reloads change levels and sinks in place.
package logx
