package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/oriys/pulsar/internal/domain"
	"github.com/oriys/pulsar/internal/executor"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/wrapper"
)

// StateDir returns the directory holding descriptors for one pool.
func StateDir(root, poolName string) string {
	return filepath.Join(root, "pools", poolName)
}

// descriptor is the serialized form of a PooledExecutor. It deliberately
// omits the transient fields (forwarding log, adopted command id, the
// membership link); those are reconstructed by connectPooledExecutor on
// the next controller.
type descriptor struct {
	HostCommandID string             `json:"host_command_id"`
	PoolConfig    *domain.PoolConfig `json:"pool_config"`
	Command       *domain.Command    `json:"command"`
	Executor      json.RawMessage    `json:"executor"`
	StopFile      string             `json:"stop_file"`
	HeartbeatFile string             `json:"heartbeat_file"`
}

// Descriptor filenames are the wrapper command id (domain.NewCommandID),
// which is all digits.
var allDigits = regexp.MustCompile(`^[0-9]+$`)

// saveDescriptor writes the reservation's descriptor to
// <root>/pools/<pool>/<hostCommandId>, atomically via rename.
func (p *ExecutorPool) saveDescriptor(pe *PooledExecutor) error {
	execData, err := executor.Marshal(pe.exec)
	if err != nil {
		return fmt.Errorf("serialize executor for %s: %w", pe.hostCommandID, err)
	}

	d := descriptor{
		HostCommandID: pe.hostCommandID,
		PoolConfig:    pe.poolCfg,
		Command:       pe.command,
		Executor:      execData,
		StopFile:      pe.proto.StopPath(),
		HeartbeatFile: pe.proto.HeartbeatPath(),
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize descriptor for %s: %w", pe.hostCommandID, err)
	}

	dir := StateDir(p.root, p.cfg.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, pe.hostCommandID+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, pe.hostCommandID))
}

// removeDescriptor deletes a reservation's descriptor file, if present.
func (p *ExecutorPool) removeDescriptor(hostCommandID string) {
	path := filepath.Join(StateDir(p.root, p.cfg.Name), hostCommandID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Op().Warn("remove descriptor failed",
			"pool", p.cfg.Name, "host", hostCommandID, "error", err)
	}
}

// searchForExistingPools rediscovers wrappers persisted by a previous
// controller. Descriptors that fail to deserialize are logged and
// skipped; descriptors whose backend reports anything but RUNNING are
// discarded along with their files, so the directory only ever reflects
// live wrappers. The survivors are consumed by Start before any new
// wrapper is provisioned.
func (p *ExecutorPool) searchForExistingPools() ([]*PooledExecutor, error) {
	dir := StateDir(p.root, p.cfg.Name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan pool dir for %s: %w", p.cfg.Name, err)
	}

	var found []*PooledExecutor
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !allDigits.MatchString(name) {
			continue
		}
		path := filepath.Join(dir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			logging.Op().Error("read persisted descriptor failed",
				"pool", p.cfg.Name, "file", path, "error", err)
			continue
		}
		var d descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			logging.Op().Error("decode persisted descriptor failed",
				"pool", p.cfg.Name, "file", path, "error", err)
			continue
		}
		exe, err := executor.Unmarshal(d.Executor)
		if err != nil {
			logging.Op().Error("reconstruct persisted executor failed",
				"pool", p.cfg.Name, "file", path, "error", err)
			continue
		}

		if status := exe.Status(); status != executor.StatusRunning {
			logging.Op().Debug("discarding dead persisted wrapper",
				"pool", p.cfg.Name, "host", d.HostCommandID, "status", status)
			if err := os.Remove(path); err != nil {
				logging.Op().Warn("remove stale descriptor failed",
					"file", path, "error", err)
			}
			continue
		}

		poolCfg := d.PoolConfig
		if poolCfg == nil {
			poolCfg = p.cfg
		}
		found = append(found, &PooledExecutor{
			hostCommandID: d.HostCommandID,
			exec:          exe,
			poolCfg:       poolCfg,
			command:       d.Command,
			proto:         wrapper.New(p.root, d.HostCommandID, p.iv),
			state:         StateIdle,
		})
	}
	return found, nil
}

// OfflineStats summarizes one pool directory without starting anything.
type OfflineStats struct {
	Name     string `json:"name" yaml:"name"`
	Wrappers int    `json:"wrappers" yaml:"wrappers"`
	Running  int    `json:"running" yaml:"running"`
	Persist  bool   `json:"persist" yaml:"persist"`
}

// ReadStats enumerates descriptor files without connecting to anything.
// Offline inspection for the pools CLI command; live wrappers are the
// entries whose executor still reports RUNNING.
func ReadStats(root string) ([]OfflineStats, error) {
	poolsDir := filepath.Join(root, "pools")
	entries, err := os.ReadDir(poolsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []OfflineStats
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		st := OfflineStats{Name: entry.Name()}
		files, err := os.ReadDir(filepath.Join(poolsDir, entry.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !allDigits.MatchString(f.Name()) {
				continue
			}
			st.Wrappers++
			data, err := os.ReadFile(filepath.Join(poolsDir, entry.Name(), f.Name()))
			if err != nil {
				continue
			}
			var d descriptor
			if err := json.Unmarshal(data, &d); err != nil {
				continue
			}
			if d.PoolConfig != nil {
				st.Persist = d.PoolConfig.Persist
			}
			if exe, err := executor.Unmarshal(d.Executor); err == nil {
				if exe.Status() == executor.StatusRunning {
					st.Running++
				}
			}
		}
		out = append(out, st)
	}
	return out, nil
}
