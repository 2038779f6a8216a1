package config

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/oriys/pulsar/internal/domain"
)

// PoolSection is one subsection of the preallocate configuration block.
// Known keys are lifted out; everything else passes through to the backend
// executor untouched. The section accepts `configs` as either a single
// string or a list, and treats the presence of `debugPooledExecutor` (any
// value) as enabling verbose wrapper logging.
type PoolSection struct {
	Name     string
	Configs  []string
	Jobs     int
	Persist  bool
	Walltime string
	Debug    bool
	Extra    map[string]any
}

// ToPoolConfig resolves the section against its key: name defaults to the
// section key and configs defaults to the resolved name.
func (s *PoolSection) ToPoolConfig(sectionKey string) *domain.PoolConfig {
	name := s.Name
	if name == "" {
		name = sectionKey
	}
	configs := s.Configs
	if len(configs) == 0 {
		configs = []string{name}
	}
	jobs := s.Jobs
	if jobs == 0 {
		jobs = 1
	}
	return &domain.PoolConfig{
		Name:     name,
		Configs:  configs,
		Jobs:     jobs,
		Persist:  s.Persist,
		Walltime: s.Walltime,
		Debug:    s.Debug,
		Extra:    s.Extra,
	}
}

func (s *PoolSection) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return s.fromMap(raw)
}

func (s *PoolSection) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return s.fromMap(raw)
}

func (s *PoolSection) fromMap(raw map[string]any) error {
	s.Extra = map[string]any{}
	for key, val := range raw {
		switch key {
		case "name":
			str, ok := val.(string)
			if !ok {
				return fmt.Errorf("name: expected string, got %T", val)
			}
			s.Name = str
		case "configs":
			configs, err := toStringList(val)
			if err != nil {
				return fmt.Errorf("configs: %w", err)
			}
			s.Configs = configs
		case "jobs":
			n, err := toInt(val)
			if err != nil {
				return fmt.Errorf("jobs: %w", err)
			}
			s.Jobs = n
		case "persist":
			b, ok := val.(bool)
			if !ok {
				return fmt.Errorf("persist: expected bool, got %T", val)
			}
			s.Persist = b
		case "walltime":
			switch v := val.(type) {
			case string:
				s.Walltime = v
			case int, int64, float64:
				// Bare number of seconds.
				n, _ := toInt(v)
				s.Walltime = strconv.Itoa(n)
			default:
				return fmt.Errorf("walltime: expected string or number, got %T", val)
			}
		case "debugPooledExecutor":
			s.Debug = true
		default:
			s.Extra[key] = val
		}
	}
	if len(s.Extra) == 0 {
		s.Extra = nil
	}
	return nil
}

func toStringList(val any) ([]string, error) {
	switch v := val.(type) {
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list, got %T", val)
	}
}

func toInt(val any) (int, error) {
	switch v := val.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", val)
	}
}
