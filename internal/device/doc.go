// Package device provides the Device Registry: the catalogue of devices that
// may hold an API key and report telemetry.
//
// # Architecture
//
//	┌──────────────────┐    ┌──────────────────┐    ┌──────────────────┐
//	│     Registry     │    │    Repository    │    │    Validation    │
//	│   (registry.go)  │───▶│  (repository.go) │    │ (validation.go)  │
//	│                  │    │                  │    │                  │
//	│ • CRUD ops       │    │ • SQLite queries │    │ • Name/desc size │
//	│ • Name policy    │    │ • Transactions   │    │ • Notes checks   │
//	└──────────────────┘    └──────────────────┘    └──────────────────┘
//
// Devices are listed in insertion order so offset pagination is stable.
// A device that has telemetry cannot be deleted; deleting a device removes
// its API key in the same transaction.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo, device.Options{UniqueNames: cfg.Registry.UniqueNames})
//
//	d := &device.Device{Name: "Greenhouse probe"}
//	if err := registry.CreateDevice(ctx, d); err != nil {
//	    return err
//	}
package device
