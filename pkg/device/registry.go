// Package device looks devices up in a loaded configuration and resolves
// their actions to shell command templates.
package device

import (
	"github.com/davidroman0O/dutssh/pkg/config"
)

// Registry is a read-only view over the devices of a configuration file.
// Lookups are linear scans in file order: the first exact match wins and no
// case folding or trimming is applied.
type Registry struct {
	devices []config.Device
}

// NewRegistry creates a registry for the devices of cfg. A nil cfg yields an
// empty registry.
func NewRegistry(cfg *config.File) *Registry {
	if cfg == nil {
		return &Registry{}
	}
	return &Registry{devices: cfg.Devices}
}

// Devices returns the configured devices in file order
func (r *Registry) Devices() []config.Device {
	return r.devices
}

// FindByBoard returns the device whose board name equals name
func (r *Registry) FindByBoard(name string) (*config.Device, bool) {
	return r.find(name, func(d *config.Device) string { return d.Board })
}

// FindBySerial returns the device whose fastboot serial equals serial
func (r *Registry) FindBySerial(serial string) (*config.Device, bool) {
	return r.find(serial, func(d *config.Device) string { return d.FastbootSerial })
}

// FindByLAVAHostname returns the device registered under the given LAVA hostname
func (r *Registry) FindByLAVAHostname(hostname string) (*config.Device, bool) {
	return r.find(hostname, func(d *config.Device) string { return d.LAVAHostname })
}

// find never matches an empty key, so devices lacking an optional field are
// invisible to the lookups on that field.
func (r *Registry) find(key string, field func(*config.Device) string) (*config.Device, bool) {
	if key == "" {
		return nil, false
	}
	for i := range r.devices {
		d := &r.devices[i]
		if field(d) == key {
			return d, true
		}
	}
	return nil, false
}

// Resolve returns the command template stored for action on d. An empty
// template counts as missing.
func Resolve(d *config.Device, action string) (string, bool) {
	if d == nil {
		return "", false
	}
	template, ok := d.Commands.Lookup(action)
	return template, ok && template != ""
}
