package converter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"paperreader/internal/device"
	"paperreader/internal/domain"
)

type loadedEngine struct {
	engine Engine
	device device.Kind
}

type entry struct {
	variant Variant
	loaded  atomic.Pointer[loadedEngine]
}

func (e *entry) check() error {
	if e.variant.Check == nil {
		return nil
	}
	return e.variant.Check()
}

// Registry maps converter names to variants and loads each variant's
// engine at most once, on first use.
type Registry struct {
	entries     map[Name]*entry
	order       []Name
	aliases     map[string]Name
	defaultName Name

	detector   *device.Detector
	detectOnce sync.Once
	device     device.Kind

	group  singleflight.Group
	logger domain.Logger
}

// NewRegistry builds a registry over a fixed variant table. defaultName must
// name one of the variants.
func NewRegistry(variants []Variant, defaultName string, detector *device.Detector, logger domain.Logger) (*Registry, error) {
	r := &Registry{
		entries:  make(map[Name]*entry, len(variants)),
		aliases:  make(map[string]Name),
		detector: detector,
		logger:   logger,
	}
	for _, v := range variants {
		if v.Load == nil {
			return nil, fmt.Errorf("converter %s has no loader", v.Name)
		}
		if _, dup := r.entries[v.Name]; dup {
			return nil, fmt.Errorf("converter %s registered twice", v.Name)
		}
		r.entries[v.Name] = &entry{variant: v}
		r.order = append(r.order, v.Name)
		for _, alias := range v.Aliases {
			r.aliases[strings.ToLower(alias)] = v.Name
		}
	}

	def, ok := r.lookup(defaultName)
	if !ok {
		return nil, fmt.Errorf("default converter %q is not registered", defaultName)
	}
	r.defaultName = def.variant.Name
	return r, nil
}

// lookup is the only place a converter is found by string.
func (r *Registry) lookup(name string) (*entry, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if e, ok := r.entries[Name(key)]; ok {
		return e, true
	}
	if canonical, ok := r.aliases[key]; ok {
		return r.entries[canonical], true
	}
	return nil, false
}

// Default returns the default variant name.
func (r *Registry) Default() Name {
	return r.defaultName
}

// Device detects the execution device once and returns it afterwards.
func (r *Registry) Device(ctx context.Context) device.Kind {
	r.detectOnce.Do(func() {
		if r.detector == nil {
			r.device = device.CPU
			return
		}
		r.device = r.detector.Detect(ctx)
	})
	return r.device
}

// Resolve picks the variant for name without loading it. An unknown name or
// a missing dependency resolves to the default variant with a warning.
func (r *Registry) Resolve(name string, dev device.Kind) (*Handle, error) {
	def := r.entries[r.defaultName]

	e, ok := r.lookup(name)
	switch {
	case strings.TrimSpace(name) == "":
		e = def
	case !ok:
		r.logger.Warn("Unknown converter requested, using default", "requested", name, "default", r.defaultName)
		e = def
	default:
		if err := e.check(); err != nil {
			r.logger.Warn("Converter dependency missing, using default",
				"requested", name, "converter", e.variant.Name, "missing", dependencyName(err), "default", r.defaultName)
			e = def
		}
	}

	if e == def {
		if err := def.check(); err != nil {
			return nil, &UnavailableError{Requested: name, Err: err}
		}
	}

	return &Handle{
		registry:  r,
		entry:     e,
		device:    dev,
		requested: name,
	}, nil
}

// Converters describes every registered variant.
func (r *Registry) Converters() []domain.ConverterInfo {
	infos := make([]domain.ConverterInfo, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		info := domain.ConverterInfo{
			Name:      string(name),
			Aliases:   e.variant.Aliases,
			Default:   name == r.defaultName,
			Available: true,
		}
		if err := e.check(); err != nil {
			info.Available = false
			info.Missing = dependencyName(err)
		}
		infos = append(infos, info)
	}
	return infos
}

func (r *Registry) load(ctx context.Context, e *entry, dev device.Kind) (*loadedEngine, error) {
	name := e.variant.Name
	start := time.Now()
	r.logger.Info("Loading converter", "converter", name, "device", dev)

	engine, err := e.variant.Load(ctx, dev)
	if err == nil {
		r.logger.Info("Converter loaded", "converter", name, "device", dev, "elapsed_ms", time.Since(start).Milliseconds())
		return &loadedEngine{engine: engine, device: dev}, nil
	}

	if !errors.Is(err, ErrDeviceInit) {
		return nil, fmt.Errorf("load converter %s: %w", name, err)
	}
	if dev == device.CPU {
		return nil, &DeviceInitError{Variant: name, Device: dev, Err: err}
	}

	r.logger.Warn("Converter failed to initialize on accelerator, retrying on CPU", "converter", name, "device", dev, "error", err)
	engine, err = e.variant.Load(ctx, device.CPU)
	if err != nil {
		return nil, &DeviceInitError{Variant: name, Device: device.CPU, Err: err}
	}
	r.logger.Info("Converter loaded", "converter", name, "device", device.CPU, "elapsed_ms", time.Since(start).Milliseconds())
	return &loadedEngine{engine: engine, device: device.CPU}, nil
}

// Handle is a resolved, possibly not yet loaded, converter.
type Handle struct {
	registry  *Registry
	entry     *entry
	device    device.Kind
	requested string
}

// Name returns the variant the handle resolved to.
func (h *Handle) Name() Name {
	return h.entry.variant.Name
}

// Fallback reports whether the handle differs from what was requested.
func (h *Handle) Fallback() bool {
	e, ok := h.registry.lookup(h.requested)
	return strings.TrimSpace(h.requested) != "" && (!ok || e != h.entry)
}

// Engine returns the shared engine, loading it on first use. Concurrent
// callers wait on the single in-flight load. A failed load is not cached.
func (h *Handle) Engine(ctx context.Context) (Engine, error) {
	if l := h.entry.loaded.Load(); l != nil {
		return l.engine, nil
	}

	v, err, _ := h.registry.group.Do(string(h.entry.variant.Name), func() (interface{}, error) {
		if l := h.entry.loaded.Load(); l != nil {
			return l, nil
		}
		l, err := h.registry.load(ctx, h.entry, h.device)
		if err != nil {
			return nil, err
		}
		h.entry.loaded.Store(l)
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*loadedEngine).engine, nil
}

// ReloadOnCPU replaces a shared engine that failed on the accelerator with
// one loaded on CPU, for this and every later document. When another caller
// already swapped it, the CPU engine is returned without loading again.
func (h *Handle) ReloadOnCPU(ctx context.Context) (Engine, error) {
	name := h.entry.variant.Name
	v, err, _ := h.registry.group.Do(string(name)+"@cpu", func() (interface{}, error) {
		if l := h.entry.loaded.Load(); l != nil && l.device == device.CPU {
			return l, nil
		}

		h.registry.logger.Warn("Converter failed on accelerator while converting, reloading on CPU", "converter", name, "device", h.LoadedDevice())
		start := time.Now()
		engine, err := h.entry.variant.Load(ctx, device.CPU)
		if err != nil {
			return nil, &DeviceInitError{Variant: name, Device: device.CPU, Err: err}
		}
		l := &loadedEngine{engine: engine, device: device.CPU}
		h.entry.loaded.Store(l)
		h.registry.logger.Info("Converter loaded", "converter", name, "device", device.CPU, "elapsed_ms", time.Since(start).Milliseconds())
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*loadedEngine).engine, nil
}

// LoadedDevice returns the device the engine ended up on, or "" when not loaded.
func (h *Handle) LoadedDevice() device.Kind {
	if l := h.entry.loaded.Load(); l != nil {
		return l.device
	}
	return ""
}

func dependencyName(err error) string {
	var depErr *DependencyError
	if errors.As(err, &depErr) {
		return depErr.Dependency
	}
	return err.Error()
}
