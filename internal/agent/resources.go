package agent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
)

const cpuPeriod = 100000

// ParseResources converts operator limits such as "1.5" CPUs and "2g" of
// memory into container resources. Empty or "0" means unlimited.
func ParseResources(cpu, memory string) (container.Resources, error) {
	mem, err := parseByteSize(memory)
	if err != nil {
		return container.Resources{}, fmt.Errorf("agent.ParseResources: memory: %w", err)
	}

	quota, err := parseCPUQuota(cpu)
	if err != nil {
		return container.Resources{}, fmt.Errorf("agent.ParseResources: cpu: %w", err)
	}

	res := container.Resources{Memory: mem}
	if quota > 0 {
		res.CPUPeriod = cpuPeriod
		res.CPUQuota = quota
	}
	return res, nil
}

func parseByteSize(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "0" {
		return 0, nil
	}

	units := []struct {
		suffix string
		scale  int64
	}{
		{"g", 1 << 30},
		{"m", 1 << 20},
		{"k", 1 << 10},
	}

	scale := int64(1)
	for _, u := range units {
		if trimmed, ok := strings.CutSuffix(s, u.suffix); ok {
			s, scale = trimmed, u.scale
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %d", n)
	}
	return n * scale, nil
}

func parseCPUQuota(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	cpus, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if cpus < 0 {
		return 0, fmt.Errorf("negative cpu count %g", cpus)
	}
	return int64(cpus * cpuPeriod), nil
}
