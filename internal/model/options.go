package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Options carries a plugin's raw configuration section. Platforms and
// algorithms decode it into their own option structs, so adding a new kind
// never changes the Config schema.
type Options struct {
	node yaml.Node
}

// UnmarshalYAML keeps the raw node for later decoding.
func (o *Options) UnmarshalYAML(value *yaml.Node) error {
	o.node = *value
	return nil
}

// MarshalYAML emits the raw node back unchanged.
func (o Options) MarshalYAML() (any, error) {
	if o.node.Kind == 0 {
		return nil, nil
	}
	return &o.node, nil
}

// Empty reports whether no section was provided.
func (o Options) Empty() bool { return o.node.Kind == 0 }

// Decode fills v from the raw section. An absent section leaves v untouched
// so callers can pre-populate defaults.
func (o Options) Decode(v any) error {
	if o.Empty() {
		return nil
	}
	if err := o.node.Decode(v); err != nil {
		return fmt.Errorf("%w: decode options: %v", ErrInvalidConfig, err)
	}
	return nil
}

// OptionsFromYAML builds Options from a YAML document; used by tests and
// callers constructing plugins outside a config file.
func OptionsFromYAML(doc string) (Options, error) {
	var o Options
	if err := yaml.Unmarshal([]byte(doc), &o); err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	// yaml.Unmarshal hands the document node; unwrap to the content node
	if o.node.Kind == yaml.DocumentNode && len(o.node.Content) == 1 {
		o.node = *o.node.Content[0]
	}
	return o, nil
}
