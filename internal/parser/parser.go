// Package parser converts operator command lines to structured types and
// vice-versa.
//
// CSV operator wire format (operator -> vehicle):
//
//	OP,ACTIVE,VX,VY,VZ,YAW_RATE
//
// ACTIVE is 0 or 1, velocities are m/s in the start-relative frame and
// YAW_RATE is rad/s.
package parser

import (
	"fmt"
	"sort"

	"QuadExplore/internal/model"
)

// Parser encodes and decodes operator commands for one wire format.
type Parser interface {
	EncodeCommand(c model.OperatorCommand) (string, error)
	DecodeCommand(line string) (model.OperatorCommand, error)
}

var parsers = map[string]Parser{
	"csv":  NewCSVParser(),
	"json": NewJSONParser(),
}

// Get returns the parser for a wire format.
func Get(format string) (Parser, error) {
	p, ok := parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: unknown wire format %q", model.ErrInvalidConfig, format)
	}
	return p, nil
}

// Formats lists the supported wire formats.
func Formats() []string {
	out := make([]string, 0, len(parsers))
	for k := range parsers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
