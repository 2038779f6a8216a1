package domain

// PoolConfig is the immutable descriptor of one named pre-allocation pool.
type PoolConfig struct {
	// Name is unique within a registry and doubles as the directory name
	// under the pools state directory.
	Name string `json:"name"`

	// Configs lists the backend-config names this pool may serve.
	// Defaults to {Name}.
	Configs []string `json:"configs"`

	// Jobs is the number of wrapper jobs to pre-allocate.
	Jobs int `json:"jobs"`

	// Persist keeps wrapper jobs alive across controller exits; they are
	// re-attached on the next startup.
	Persist bool `json:"persist"`

	// Walltime is the wall-time budget for each wrapper ("HH:MM:SS" style,
	// empty for none).
	Walltime string `json:"walltime,omitempty"`

	// Debug enables verbose logging inside the generated wrapper script.
	Debug bool `json:"debug,omitempty"`

	// Extra carries backend-specific fields through to the backend
	// executor untouched.
	Extra map[string]any `json:"extra,omitempty"`
}

// Serves reports whether this pool may serve commands resolved against the
// named backend config.
func (c *PoolConfig) Serves(configName string) bool {
	for _, name := range c.Configs {
		if name == configName {
			return true
		}
	}
	return false
}

// WalltimeMs returns the pool walltime budget in milliseconds, or 0 when
// no budget is configured.
func (c *PoolConfig) WalltimeMs() (int64, error) {
	if c.Walltime == "" {
		return 0, nil
	}
	d, err := ParseWalltime(c.Walltime)
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}

// ExecutorConfig builds the resolved config handed to the backend executor
// when provisioning a wrapper job for this pool.
func (c *PoolConfig) ExecutorConfig() *ResolvedConfig {
	return &ResolvedConfig{
		Name:     c.Name,
		Walltime: c.Walltime,
		Extra:    c.Extra,
	}
}
