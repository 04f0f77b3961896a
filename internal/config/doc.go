// Package config loads and validates the desyncd configuration file.
//
// The file may be YAML or JSON; YAML is normalized to JSON so both formats
// go through one strict decoder that rejects unknown fields. The job table
// (jobs: id -> type/value/desync knobs) is decoded structurally here and
// validated per job at registry start, so a single malformed job spec does
// not reject the whole file.
package config
