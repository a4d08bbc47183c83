package config

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a process configuration fails validation.
var ErrInvalidConfig = errors.New("invalid process configuration")

// Process is what a bus participant needs to join the bus.
type Process struct {
	ProcessName string   `yaml:"process_name" validate:"required"`
	Address     string   `yaml:"address" validate:"required,url"`
	Topics      []string `yaml:"topics" validate:"dive,required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that p names the process, has a usable address and lists no empty topics.
func (p Process) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// WithDefaultTopics returns p with topics filled in when p lists none.
func (p Process) WithDefaultTopics(topics []string) Process {
	if len(p.Topics) == 0 {
		p.Topics = slices.Clone(topics)
	}
	return p
}

// LoadFile reads and validates a YAML process file:
//
//	process_name: echo_server
//	address: ws://localhost:8080/bus
//	topics: [echo]
func LoadFile(fs afero.Fs, path string) (Process, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Process{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var p Process
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Process{}, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
	}

	if err := p.Validate(); err != nil {
		return Process{}, err
	}
	return p, nil
}
