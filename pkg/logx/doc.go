// Package logx is a thin wrapper around zerolog used across desyncd.
//
// It provides a Logger value type with fixed-field derivation (With), typed
// field helpers, and console/file sinks configured once at startup. The zero
// Logger and Nop() are safe no-op loggers, which keeps tests quiet without
// plumbing.
package logx
