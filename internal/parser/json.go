package parser

import (
	"encoding/json"
	"fmt"

	"QuadExplore/internal/model"
)

// JSONParser implements Parser using one JSON object per line.
type JSONParser struct{}

// NewJSONParser creates a new JSON parser.
func NewJSONParser() *JSONParser { return &JSONParser{} }

// EncodeCommand encodes an OperatorCommand into a JSON line.
func (p *JSONParser) EncodeCommand(c model.OperatorCommand) (string, error) {
	b, err := json.Marshal(c)
	return string(b), err
}

// DecodeCommand decodes a JSON line into an OperatorCommand.
func (p *JSONParser) DecodeCommand(s string) (model.OperatorCommand, error) {
	var c model.OperatorCommand
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return model.OperatorCommand{}, fmt.Errorf("decode operator json: %w", err)
	}
	return c, nil
}
