package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"paperreader/internal/domain"
)

// Kind is the compute backend a converter model runs on.
type Kind string

const (
	CUDA Kind = "cuda"
	CPU  Kind = "cpu"
)

const probeTimeout = 5 * time.Second

// Accelerator describes the GPU reported by a successful probe.
type Accelerator struct {
	Name          string
	MemoryTotalMB int
}

// ProbeFunc queries the host for an accelerator.
type ProbeFunc func(ctx context.Context) (*Accelerator, error)

// Detector picks the execution device. Override wins, then the probe, then CPU.
type Detector struct {
	override string
	probe    ProbeFunc
	logger   domain.Logger
}

// NewDetector creates a detector that probes with nvidia-smi
func NewDetector(override string, logger domain.Logger) *Detector {
	return NewDetectorWithProbe(override, NvidiaSMIProbe, logger)
}

// NewDetectorWithProbe creates a detector with a custom probe
func NewDetectorWithProbe(override string, probe ProbeFunc, logger domain.Logger) *Detector {
	return &Detector{
		override: strings.ToLower(strings.TrimSpace(override)),
		probe:    probe,
		logger:   logger,
	}
}

// ParseKind normalizes an operator-supplied device name.
func ParseKind(value string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "cuda", "gpu":
		return CUDA, true
	case "cpu":
		return CPU, true
	default:
		return "", false
	}
}

// Detect never fails. A probe error means no accelerator.
func (d *Detector) Detect(ctx context.Context) Kind {
	if d.override != "" {
		if kind, ok := ParseKind(d.override); ok {
			d.logger.Info("Using device from override", "device", kind)
			return kind
		}
		d.logger.Warn("Ignoring unknown device override", "value", d.override)
	}

	if d.probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		acc, err := d.probe(probeCtx)
		cancel()
		if err == nil && acc != nil {
			d.logger.Info("GPU detected", "device", CUDA, "name", acc.Name, "memory_mb", acc.MemoryTotalMB)
			return CUDA
		}
		if err != nil {
			d.logger.Debug("GPU probe failed", "error", err)
		}
	}

	d.logger.Info("Using CPU device", "device", CPU)
	return CPU
}

// NvidiaSMIProbe asks nvidia-smi for the first GPU's name and total memory.
func NvidiaSMIProbe(ctx context.Context) (*Accelerator, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total",
		"--format=csv,noheader,nounits")

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("nvidia-smi failed: %w", err)
	}
	return parseNvidiaSMI(out.String())
}

// parseNvidiaSMI reads output like "NVIDIA GeForce RTX 4090, 24564"
func parseNvidiaSMI(output string) (*Accelerator, error) {
	line := strings.TrimSpace(output)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	fields := strings.Split(line, ",")
	if len(fields) < 2 || strings.TrimSpace(fields[0]) == "" {
		return nil, fmt.Errorf("invalid nvidia-smi output: %q", line)
	}

	memory, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid nvidia-smi memory field: %w", err)
	}
	return &Accelerator{Name: strings.TrimSpace(fields[0]), MemoryTotalMB: memory}, nil
}
