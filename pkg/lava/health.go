package lava

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/davidroman0O/dutssh/pkg/config"
	"github.com/davidroman0O/dutssh/pkg/device"
)

// HealthReset moves the lab's own devices out of Bad health so LAVA runs
// their health check again.
type HealthReset struct {
	Scheduler Scheduler
	Registry  *device.Registry
	Worker    string
	Reason    string
	// DryRun reports the devices without updating them
	DryRun bool
	// Out receives one line per device reset; nil discards
	Out io.Writer
}

// Run resets every local device with a lava_hostname that the server reports
// as Bad, in configuration order, and returns the hostnames it reset.
func (h *HealthReset) Run(ctx context.Context) ([]string, error) {
	remote, err := h.Scheduler.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("[LAVA] Server reports %d devices", len(remote))

	reason := h.Reason
	if reason == "" {
		reason = config.DefaultHealthReason
	}
	out := h.Out
	if out == nil {
		out = io.Discard
	}

	// Bad remote devices that belong to this lab, keyed by LAVA hostname
	bad := make(map[string]*config.Device)
	for _, r := range remote {
		if r.Health != HealthBad {
			continue
		}
		if d, ok := h.Registry.FindByLAVAHostname(r.Hostname); ok {
			bad[r.Hostname] = d
		}
	}

	var reset []string
	devices := h.Registry.Devices()
	for i := range devices {
		d := &devices[i]
		if bad[d.LAVAHostname] != d {
			continue
		}

		if h.DryRun {
			fmt.Fprintf(out, "would reset %s (%s) from %s to %s\n", d.LAVAHostname, d.Board, HealthBad, HealthUnknown)
			reset = append(reset, d.LAVAHostname)
			continue
		}

		if err := h.Scheduler.UpdateHealth(ctx, d.LAVAHostname, h.Worker, HealthUnknown, reason); err != nil {
			return reset, fmt.Errorf("reset %s: %w", d.LAVAHostname, err)
		}
		fmt.Fprintf(out, "reset %s (%s) to %s\n", d.LAVAHostname, d.Board, HealthUnknown)
		reset = append(reset, d.LAVAHostname)
	}
	return reset, nil
}
