package common

import (
	"fmt"
	"io"
	"io/ioutil"

	"github.com/ghodss/yaml"
)

// EnvironmentSpec is the declarative dependency list handed to the platform's image builder. It
// is parsed locally only to fail fast on an empty or unnamed spec; the builder is the one that
// actually interprets it.
type EnvironmentSpec struct {
	Checkable

	Name         string   `json:"name"`
	Dependencies []string `json:"dependencies"`
}

// LoadEnvironmentSpec parses a YAML environment spec from a reader and validates it
func LoadEnvironmentSpec(r io.Reader) (*EnvironmentSpec, error) {
	raw, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("[environment] Error reading environment spec: %s", err)
	}

	spec := &EnvironmentSpec{}
	if err := yaml.Unmarshal(raw, spec); err != nil {
		return nil, fmt.Errorf("[environment] Error un-marshaling environment spec: %s", err)
	}
	if err := spec.Check(); err != nil {
		return nil, fmt.Errorf("[environment] Invalid environment spec: %s", err)
	}
	return spec, nil
}

// Check returns nil if the environment spec is valid, an explicit error otherwise
func (e *EnvironmentSpec) Check() (err error) {
	if e.Name == "" {
		return fmt.Errorf("name field is unset")
	}
	if len(e.Dependencies) == 0 {
		return fmt.Errorf("dependencies field is empty or unset")
	}
	return nil
}
