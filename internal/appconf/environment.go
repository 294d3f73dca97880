package appconf

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dev", "development":
		return Development, nil
	case "test":
		return Test, nil
	case "prod", "production":
		return Production, nil
	}
	return Development, fmt.Errorf("unknown environment %q", s)
}

func (e *Environment) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseEnvironment(node.Value)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
