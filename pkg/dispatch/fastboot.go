package dispatch

import (
	"context"
	"log"

	"github.com/davidroman0O/dutssh/pkg/config"
	"github.com/davidroman0O/dutssh/pkg/device"
	"github.com/davidroman0O/dutssh/pkg/executor"
	"github.com/davidroman0O/dutssh/pkg/fastboot"
	"github.com/davidroman0O/dutssh/pkg/remote"
)

// Fastboot sends a fastboot invocation to the host of the device named by
// its -s serial, or runs the local fastboot when no device matches.
type Fastboot struct {
	registry  *device.Registry
	transport remote.Transport
	exec      executor.Executor
	settings  config.FastbootConfig
}

// NewFastboot creates a fastboot dispatcher. cfg may be nil, in which case
// every invocation runs locally with the default fastboot path.
func NewFastboot(cfg *config.File, transport remote.Transport, exec executor.Executor) *Fastboot {
	if cfg == nil {
		cfg = &config.File{}
	}
	cfg.ApplyDefaults()
	return &Fastboot{
		registry:  device.NewRegistry(cfg),
		transport: transport,
		exec:      exec,
		settings:  *cfg.Fastboot,
	}
}

// Target returns the configured device addressed by args, if any
func (f *Fastboot) Target(args []string) (*config.Device, bool) {
	serial, ok := fastboot.Serial(args)
	if !ok {
		return nil, false
	}
	return f.registry.FindBySerial(serial)
}

// Run dispatches one fastboot invocation. For a remote device the staged
// files are removed on every return path, including interrupts and a failing
// remote fastboot. The returned error carries fastboot's own exit status.
func (f *Fastboot) Run(ctx context.Context, args []string) error {
	dev, ok := f.Target(args)
	if !ok || f.transport == nil {
		log.Printf("[FASTBOOT] No remote device for %v, running %s locally", args, f.settings.LocalPath)
		err := f.exec.Execute(ctx, executor.Argv(f.settings.LocalPath, args...))
		return annotate(err, map[string]interface{}{"fastboot": f.settings.LocalPath})
	}

	fields := map[string]interface{}{"serial": dev.FastbootSerial, "host": dev.Host}

	stager := fastboot.NewStager(f.transport, dev.Host, f.settings.StagingDir)
	staging, err := stager.Stage(ctx, args)
	defer func() {
		if cerr := staging.Cleanup(ctx); cerr != nil {
			log.Printf("[FASTBOOT] Cleanup on %s incomplete: %v", dev.Host, cerr)
		}
	}()
	if err != nil {
		return annotate(err, fields)
	}
	if serr := staging.Err(); serr != nil {
		log.Printf("[FASTBOOT] Staging on %s incomplete, running fastboot anyway: %v", dev.Host, serr)
	}

	log.Printf("[FASTBOOT] %s (%s) on %s", dev.Board, dev.FastbootSerial, dev.Host)
	argv := append([]string{f.settings.RemotePath}, staging.Args...)
	return annotate(f.transport.Run(ctx, dev.Host, argv...), fields)
}
