// Package monitoring samples host resources (CPU, memory, GPU) so operators
// can see what capacity training jobs are competing for.
package monitoring

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ResourceInfo is one host resource sample
type ResourceInfo struct {
	CPU    CPUInfo    `json:"cpu"`
	Memory MemoryInfo `json:"memory"`
	GPUs   []GPUInfo  `json:"gpus"`
}

// CPUInfo describes the host CPU and its aggregate utilization
type CPUInfo struct {
	Model        string  `json:"model"`
	Cores        int     `json:"cores"`
	UsagePercent float64 `json:"usage_percent"`
}

// MemoryInfo holds memory totals in kilobytes
type MemoryInfo struct {
	TotalKB     uint64 `json:"total_kb"`
	AvailableKB uint64 `json:"available_kb"`
	UsedKB      uint64 `json:"used_kb"`
}

// GPUInfo is one GPU's state as reported by nvidia-smi
type GPUInfo struct {
	Name               string `json:"name"`
	DriverVersion      string `json:"driver_version"`
	MemoryTotalMB      uint64 `json:"memory_total_mb"`
	MemoryUsedMB       uint64 `json:"memory_used_mb"`
	UtilizationPercent uint64 `json:"utilization_percent"`
	TemperatureC       uint64 `json:"temperature_c"`
}

// Sampler reads host resource state
type Sampler struct{}

// NewSampler creates a resource sampler
func NewSampler() *Sampler {
	return &Sampler{}
}

// Sample collects one snapshot. GPU information is best-effort: hosts
// without nvidia-smi simply report no GPUs.
func (s *Sampler) Sample(ctx context.Context) (*ResourceInfo, error) {
	cpu, err := sampleCPU()
	if err != nil {
		return nil, fmt.Errorf("sample cpu: %w", err)
	}
	mem, err := sampleMemory()
	if err != nil {
		return nil, fmt.Errorf("sample memory: %w", err)
	}

	info := &ResourceInfo{CPU: cpu, Memory: mem}
	if gpus, err := sampleGPUs(ctx); err == nil {
		info.GPUs = gpus
	}
	return info, nil
}

func sampleCPU() (CPUInfo, error) {
	info := CPUInfo{Model: "unknown"}

	cpuinfo, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return info, err
	}
	for _, line := range strings.Split(string(cpuinfo), "\n") {
		if strings.HasPrefix(line, "model name") {
			if _, after, found := strings.Cut(line, ":"); found {
				info.Model = strings.TrimSpace(after)
			}
			info.Cores++
		}
	}

	before, err := readCPUTimes()
	if err != nil {
		return info, err
	}
	time.Sleep(200 * time.Millisecond)
	after, err := readCPUTimes()
	if err != nil {
		return info, err
	}

	totalDiff := float64(after.total - before.total)
	idleDiff := float64(after.idle - before.idle)
	if totalDiff > 0 {
		info.UsagePercent = (1 - idleDiff/totalDiff) * 100
	}
	return info, nil
}

type cpuTimes struct {
	total uint64
	idle  uint64
}

func readCPUTimes() (cpuTimes, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return cpuTimes{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 8 || fields[0] != "cpu" {
			continue
		}
		var times cpuTimes
		for i, field := range fields[1:] {
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return cpuTimes{}, err
			}
			times.total += v
			// idle + iowait
			if i == 3 || i == 4 {
				times.idle += v
			}
		}
		return times, nil
	}
	return cpuTimes{}, fmt.Errorf("no aggregate cpu line in /proc/stat")
}

func sampleMemory() (MemoryInfo, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return MemoryInfo{}, err
	}

	var mem MemoryInfo
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			mem.TotalKB = v
		case "MemAvailable:":
			mem.AvailableKB = v
		}
	}
	if mem.TotalKB >= mem.AvailableKB {
		mem.UsedKB = mem.TotalKB - mem.AvailableKB
	}
	return mem, nil
}

func sampleGPUs(ctx context.Context) ([]GPUInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,driver_version,memory.total,memory.used,utilization.gpu,temperature.gpu",
		"--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return nil, err
	}

	var gpus []GPUInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		parts := strings.Split(line, ",")
		if len(parts) < 6 {
			continue
		}
		gpu := GPUInfo{
			Name:          strings.TrimSpace(parts[0]),
			DriverVersion: strings.TrimSpace(parts[1]),
		}
		gpu.MemoryTotalMB, _ = strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 64)
		gpu.MemoryUsedMB, _ = strconv.ParseUint(strings.TrimSpace(parts[3]), 10, 64)
		gpu.UtilizationPercent, _ = strconv.ParseUint(strings.TrimSpace(parts[4]), 10, 64)
		gpu.TemperatureC, _ = strconv.ParseUint(strings.TrimSpace(parts[5]), 10, 64)
		gpus = append(gpus, gpu)
	}
	return gpus, nil
}
