// Package dispatch implements the decision flow of the dispatch tools: find
// the device, pick what to run, run it, and report a coded error that maps
// onto the process exit status.
package dispatch

import (
	"context"
	"log"

	dterrors "github.com/davidroman0O/dutssh/errors"
	"github.com/davidroman0O/dutssh/pkg/device"
	"github.com/davidroman0O/dutssh/pkg/remote"
)

// DUT runs named device actions on the device's control host
type DUT struct {
	registry  *device.Registry
	transport remote.Transport
}

// NewDUT creates a DUT dispatcher
func NewDUT(registry *device.Registry, transport remote.Transport) *DUT {
	return &DUT{registry: registry, transport: transport}
}

// Run looks board up, resolves action and runs its template on the device's
// host. Lookup failures return before anything is executed.
func (d *DUT) Run(ctx context.Context, board, action string) error {
	dev, ok := d.registry.FindByBoard(board)
	if !ok {
		return dterrors.Newf(dterrors.ErrDeviceNotFound, "No device %s found", board)
	}

	template, ok := device.Resolve(dev, action)
	if !ok {
		return dterrors.Newf(dterrors.ErrActionNotFound, "No command %s in device %s", action, board)
	}

	log.Printf("[DUT] %s %s on %s: %s", board, action, dev.Host, template)
	err := d.transport.Shell(ctx, dev.Host, template)
	return annotate(err, map[string]interface{}{
		"board":  board,
		"action": action,
		"host":   dev.Host,
	})
}

// annotate attaches device details to unexpected faults. Lookup failures,
// interrupts and remote exit statuses already say what happened.
func annotate(err error, fields map[string]interface{}) error {
	if err == nil || dterrors.GetCode(err) != dterrors.ErrUnexpected {
		return err
	}
	return dterrors.WithContext(err, fields)
}
