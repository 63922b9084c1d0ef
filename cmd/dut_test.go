package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dterrors "github.com/davidroman0O/dutssh/errors"
	"github.com/davidroman0O/dutssh/pkg/config"
)

const dutUsage = "ERROR: Usage: dut-ssh <device> <console|power_on|power_off|hard_reset>\n"

func TestDUTUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no arguments", nil},
		{"device only", []string{"db845c-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tio := newTestIO(t)
			tr := &fakeTransport{}
			stubTransport(t, tr)

			assert.Equal(t, dterrors.ExitUsage, tio.run(NewDUTCommand, tt.args...))
			assert.Equal(t, dutUsage, tio.stdout.String())
			assert.Empty(t, tr.calls)
		})
	}
}

func TestDUTUnknownFlagIsUsageError(t *testing.T) {
	tio := newTestIO(t)
	stubTransport(t, &fakeTransport{})

	assert.Equal(t, dterrors.ExitUsage, tio.run(NewDUTCommand, "--bogus", "db845c-01", "console"))
	assert.Contains(t, tio.stdout.String(), "ERROR: Usage: dut-ssh")
}

func TestDUTRunsActionOnDeviceHost(t *testing.T) {
	tio := newTestIO(t)
	tio.writeConfig(t, config.DUTConfigName, labConfig)
	tr := &fakeTransport{}
	seen := stubTransport(t, tr)

	require.Equal(t, 0, tio.run(NewDUTCommand, "db845c-01", "hard_reset"))
	assert.Equal(t, []call{{"shell", "lab-host-1", []string{"pdu 3 reboot"}}}, tr.calls)
	assert.True(t, tr.closed)
	require.Len(t, *seen, 1)
	assert.Equal(t, config.TransportOpenSSH, (*seen)[0].Transport)
	assert.Empty(t, tio.stdout.String())
}

func TestDUTLookupFailures(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		code   int
		stdout string
	}{
		{"unknown device", []string{"hikey960", "console"}, dterrors.ExitDeviceNotFound, "ERROR: No device hikey960 found\n"},
		{"unknown action", []string{"rb5-01", "hard_reset"}, dterrors.ExitActionNotFound, "ERROR: No command hard_reset in device rb5-01\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tio := newTestIO(t)
			tio.writeConfig(t, config.DUTConfigName, labConfig)
			tr := &fakeTransport{}
			stubTransport(t, tr)

			assert.Equal(t, tt.code, tio.run(NewDUTCommand, tt.args...))
			assert.Equal(t, tt.stdout, tio.stdout.String())
			assert.Empty(t, tr.calls)
		})
	}
}

func TestDUTForwardsRemoteStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"remote failure", dterrors.Subprocess("ssh", 7), 7},
		{"ssh connection failure", dterrors.Subprocess("ssh", 255), 255},
		{"interrupted", dterrors.New(dterrors.ErrInterrupted, "interrupted"), dterrors.ExitInterrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tio := newTestIO(t)
			tio.writeConfig(t, config.DUTConfigName, labConfig)
			stubTransport(t, &fakeTransport{runErr: tt.err})

			assert.Equal(t, tt.code, tio.run(NewDUTCommand, "db845c-01", "console"))
			assert.Empty(t, tio.stdout.String())
		})
	}
}

func TestDUTConfigSources(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		tio := newTestIO(t)
		tr := &fakeTransport{}
		stubTransport(t, tr)

		missing := filepath.Join(tio.dir, "nowhere.conf")
		assert.Equal(t, dterrors.ExitConfigNotFound, tio.run(NewDUTCommand, "--config", missing, "db845c-01", "console"))
		assert.Contains(t, tio.stdout.String(), "ERROR: no configuration file found")
		assert.Empty(t, tr.calls)
	})

	t.Run("environment override", func(t *testing.T) {
		tio := newTestIO(t)
		p := tio.writeConfig(t, "elsewhere.conf", labConfig)
		t.Setenv(config.EnvConfigPath, p)
		tr := &fakeTransport{}
		stubTransport(t, tr)

		require.Equal(t, 0, tio.run(NewDUTCommand, "rb5-01", "console"))
		assert.Equal(t, []call{{"shell", "lab-host-2", []string{"conmux-console rb5-01"}}}, tr.calls)
	})

	t.Run("flag beats environment", func(t *testing.T) {
		tio := newTestIO(t)
		t.Setenv(config.EnvConfigPath, filepath.Join(tio.dir, "missing.conf"))
		p := tio.writeConfig(t, "flag.conf", labConfig)
		stubTransport(t, &fakeTransport{})

		assert.Equal(t, 0, tio.run(NewDUTCommand, "-c", p, "rb5-01", "console"))
	})

	t.Run("malformed", func(t *testing.T) {
		tio := newTestIO(t)
		tio.writeConfig(t, config.DUTConfigName, "devices: [\n")
		stubTransport(t, &fakeTransport{})

		assert.Equal(t, dterrors.ExitFault, tio.run(NewDUTCommand, "rb5-01", "console"))
		assert.Contains(t, tio.stderr.String(), "ERROR:")
	})
}

func TestDUTList(t *testing.T) {
	tio := newTestIO(t)
	tio.writeConfig(t, config.DUTConfigName, labConfig)
	tr := &fakeTransport{}
	stubTransport(t, tr)

	require.Equal(t, 0, tio.run(NewDUTCommand, "--list"))
	assert.Equal(t, "db845c-01\tlab-host-1\tconsole,hard_reset\nrb5-01\tlab-host-2\tconsole\n", tio.stdout.String())
	assert.Empty(t, tr.calls)
}

func TestDUTSchemaNeedsNoConfig(t *testing.T) {
	tio := newTestIO(t)

	require.Equal(t, 0, tio.run(NewDUTCommand, "--schema"))
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(tio.stdout.Bytes(), &doc))
	assert.Contains(t, doc, "$id")
}

func TestDUTVerboseLogsToStderr(t *testing.T) {
	tio := newTestIO(t)
	tio.writeConfig(t, config.DUTConfigName, labConfig)
	stubTransport(t, &fakeTransport{})
	t.Setenv("DUT_SSH_DEBUG", "1")

	require.Equal(t, 0, tio.run(NewDUTCommand, "db845c-01", "console"))
	assert.Contains(t, tio.stderr.String(), "[MAIN] Using configuration")
	assert.Empty(t, tio.stdout.String())
}

func TestDUTFaultReportsDeviceDetails(t *testing.T) {
	tio := newTestIO(t)
	tio.writeConfig(t, config.DUTConfigName, labConfig)
	stubTransport(t, &fakeTransport{runErr: dterrors.New(dterrors.ErrUnexpected, "failed to connect to lab-host-1")})

	assert.Equal(t, dterrors.ExitFault, tio.run(NewDUTCommand, "db845c-01", "console"))
	assert.Empty(t, tio.stdout.String())
	assert.Equal(t,
		"ERROR: failed to connect to lab-host-1\n  context: map[action:console board:db845c-01 host:lab-host-1]\n",
		tio.stderr.String())
}
