package device

import "context"

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options tune registry policy.
type Options struct {
	// UniqueNames rejects a create or rename that reuses an existing device name.
	UniqueNames bool
}

// Registry validates device changes and delegates persistence to a Repository.
// It keeps no state of its own, so every call sees the current database.
//
// All public methods are safe for concurrent use.
type Registry struct {
	repo   Repository
	opts   Options
	logger Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository, opts Options) *Registry {
	return &Registry{
		repo:   repo,
		opts:   opts,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// CreateDevice validates and stores a new device. ID, timestamps and an
// empty key list are filled in on success.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, device, r.opts.UniqueNames); err != nil {
		return err
	}

	r.logger.Info("device created", "device_id", device.ID, "name", device.Name)
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	return r.repo.GetByID(ctx, id)
}

// DeviceExists reports whether id refers to a registered device.
func (r *Registry) DeviceExists(ctx context.Context, id string) (bool, error) {
	return r.repo.Exists(ctx, id)
}

// UpdateDevice applies a partial update and returns the stored device.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) UpdateDevice(ctx context.Context, id string, patch Patch) (*Device, error) {
	if patch.IsEmpty() {
		return r.repo.GetByID(ctx, id)
	}

	device, err := r.repo.Update(ctx, id, func(d *Device) error {
		patch.Apply(d)
		return ValidateDevice(d)
	}, r.opts.UniqueNames && patch.Name != nil)
	if err != nil {
		return nil, err
	}

	r.logger.Info("device updated", "device_id", id)
	return device, nil
}

// DeleteDevice removes a device and its API key.
// Returns ErrDeviceNotFound, or ErrDeviceHasTelemetry while records exist.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.logger.Info("device deleted", "device_id", id)
	return nil
}

// ListDevices returns a page of devices in insertion order.
func (r *Registry) ListDevices(ctx context.Context, offset, limit int) ([]Device, error) {
	if offset < 0 || limit < 0 {
		return nil, ErrInvalidPagination
	}
	return r.repo.List(ctx, offset, limit)
}
