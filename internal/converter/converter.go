package converter

import (
	"context"
	"errors"
	"fmt"

	"paperreader/internal/device"
)

// Name identifies a registered conversion strategy.
type Name string

const (
	Fast   Name = "fast"
	Layout Name = "layout"
	Text   Name = "text"
)

// Engine turns a PDF on disk into Markdown. Loaded engines are shared
// across documents and must not keep per-document state.
type Engine interface {
	Convert(ctx context.Context, sourcePath string) (string, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, sourcePath string) (string, error)

func (f EngineFunc) Convert(ctx context.Context, sourcePath string) (string, error) {
	return f(ctx, sourcePath)
}

// Loader builds the engine for a variant on the given device.
type Loader func(ctx context.Context, dev device.Kind) (Engine, error)

// Variant is one entry of the registry's static table.
type Variant struct {
	Name    Name
	Aliases []string
	// Check reports a missing runtime dependency. Nil means always available.
	Check func() error
	Load  Loader
}

// ErrDeviceInit marks a loader failure caused by the accelerator. Loaders
// wrap it so the registry can retry on CPU.
var ErrDeviceInit = errors.New("device initialization failed")

// DependencyError names the runtime dependency a variant is missing.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("missing dependency %s: %v", e.Dependency, e.Err)
	}
	return "missing dependency " + e.Dependency
}

func (e *DependencyError) Unwrap() error { return e.Err }

// UnavailableError is returned when neither the requested variant nor the
// default one can be used.
type UnavailableError struct {
	Requested string
	Err       error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("converter %q unavailable: %v", e.Requested, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// DeviceInitError is returned when a model failed to initialize on the
// accelerator and again on CPU.
type DeviceInitError struct {
	Variant Name
	Device  device.Kind
	Err     error
}

func (e *DeviceInitError) Error() string {
	return fmt.Sprintf("converter %s failed to initialize on %s: %v", e.Variant, e.Device, e.Err)
}

func (e *DeviceInitError) Unwrap() error { return e.Err }
