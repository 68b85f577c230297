package parser

import (
	"fmt"
	"strconv"
	"strings"

	"QuadExplore/internal/model"
)

const csvTag = "OP"

// CSVParser implements Parser using the OP,... line format.
type CSVParser struct{}

// NewCSVParser creates a new CSV parser instance.
func NewCSVParser() *CSVParser { return &CSVParser{} }

// EncodeCommand converts an OperatorCommand into a CSV line.
func (p *CSVParser) EncodeCommand(c model.OperatorCommand) (string, error) {
	active := 0
	if c.Active {
		active = 1
	}
	return fmt.Sprintf("%s,%d,%.3f,%.3f,%.3f,%.3f", csvTag, active, c.VX, c.VY, c.VZ, c.YawRate), nil
}

// DecodeCommand parses a CSV operator line. Time is left for the receiver
// to stamp.
func (p *CSVParser) DecodeCommand(line string) (model.OperatorCommand, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 6 {
		return model.OperatorCommand{}, fmt.Errorf("expected 6 fields, got %d", len(fields))
	}
	if fields[0] != csvTag {
		return model.OperatorCommand{}, fmt.Errorf("unexpected tag %q", fields[0])
	}

	var c model.OperatorCommand
	switch fields[1] {
	case "0":
	case "1":
		c.Active = true
	default:
		return model.OperatorCommand{}, fmt.Errorf("invalid active flag %q", fields[1])
	}

	names := [4]string{"vx", "vy", "vz", "yaw_rate"}
	dst := [4]*float64{&c.VX, &c.VY, &c.VZ, &c.YawRate}
	for i := range dst {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i+2]), 64)
		if err != nil {
			return model.OperatorCommand{}, fmt.Errorf("invalid %s: %w", names[i], err)
		}
		*dst[i] = v
	}
	return c, nil
}
