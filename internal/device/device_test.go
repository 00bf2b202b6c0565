package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct {
	warnings []string
}

func (l *mockLogger) Info(msg string, fields ...interface{}) {}
func (l *mockLogger) Error(msg string, err error, fields ...interface{}) {}
func (l *mockLogger) Debug(msg string, fields ...interface{}) {}
func (l *mockLogger) Warn(msg string, fields ...interface{}) {
	l.warnings = append(l.warnings, msg)
}

func gpuProbe(ctx context.Context) (*Accelerator, error) {
	return &Accelerator{Name: "Test GPU", MemoryTotalMB: 16384}, nil
}

func failingProbe(ctx context.Context) (*Accelerator, error) {
	return nil, errors.New("nvidia-smi: not found")
}

func TestDetect_OverrideWins(t *testing.T) {
	probed := false
	probe := func(ctx context.Context) (*Accelerator, error) {
		probed = true
		return gpuProbe(ctx)
	}

	d := NewDetectorWithProbe("CPU", probe, &mockLogger{})
	assert.Equal(t, CPU, d.Detect(context.Background()))
	assert.False(t, probed, "override should skip the probe")

	d = NewDetectorWithProbe("gpu", failingProbe, &mockLogger{})
	assert.Equal(t, CUDA, d.Detect(context.Background()))
}

func TestDetect_UnknownOverrideFallsThroughToProbe(t *testing.T) {
	logger := &mockLogger{}
	d := NewDetectorWithProbe("tpu", gpuProbe, logger)

	assert.Equal(t, CUDA, d.Detect(context.Background()))
	assert.Len(t, logger.warnings, 1)
}

func TestDetect_ProbeFailureMeansCPU(t *testing.T) {
	d := NewDetectorWithProbe("", failingProbe, &mockLogger{})
	assert.Equal(t, CPU, d.Detect(context.Background()))

	d = NewDetectorWithProbe("", nil, &mockLogger{})
	assert.Equal(t, CPU, d.Detect(context.Background()))
}

func TestDetect_ProbeHasDeadline(t *testing.T) {
	var hadDeadline bool
	probe := func(ctx context.Context) (*Accelerator, error) {
		_, hadDeadline = ctx.Deadline()
		return nil, errors.New("no gpu")
	}

	NewDetectorWithProbe("", probe, &mockLogger{}).Detect(context.Background())
	assert.True(t, hadDeadline)
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"cuda", CUDA, true},
		{" GPU ", CUDA, true},
		{"cpu", CPU, true},
		{"mps", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseKind(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestParseNvidiaSMI(t *testing.T) {
	acc, err := parseNvidiaSMI("NVIDIA GeForce RTX 4090, 24564\nNVIDIA A100, 40960\n")
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", acc.Name)
	assert.Equal(t, 24564, acc.MemoryTotalMB)

	_, err = parseNvidiaSMI("")
	assert.Error(t, err)

	_, err = parseNvidiaSMI("Tesla T4, N/A")
	assert.Error(t, err)
}
