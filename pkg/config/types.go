// Package config provides configuration structures and loading utilities
package config

// Defaults applied by ApplyDefaults
const (
	DefaultLocalFastboot  = "/usr/bin/fastboot"
	DefaultRemoteFastboot = "fastboot"
	DefaultStagingDir     = "lava-fastboot"
	DefaultTransport      = TransportOpenSSH
	DefaultLAVAScheme     = "https"
	DefaultHealthReason   = "Created automatically by LAVA."
)

// Transport names accepted in the ssh section
const (
	TransportOpenSSH = "openssh"
	TransportNative  = "native"
)

// File represents the top-level configuration file structure
type File struct {
	Devices []Device `yaml:"devices" json:"devices"`
	// Optional SSH transport settings shared by every device
	SSH *SSHConfig `yaml:"ssh,omitempty" json:"ssh,omitempty"`
	// Optional fastboot wrapper settings
	Fastboot *FastbootConfig `yaml:"fastboot,omitempty" json:"fastboot,omitempty"`
	// Optional LAVA server settings for the health helper
	LAVA *LAVAConfig `yaml:"lava,omitempty" json:"lava,omitempty"`
}

// Device is one lab machine entry
type Device struct {
	Board          string     `yaml:"board" json:"board"`
	Host           string     `yaml:"host" json:"host"`
	FastbootSerial string     `yaml:"fastboot_serial,omitempty" json:"fastboot_serial,omitempty"`
	LAVAHostname   string     `yaml:"lava_hostname,omitempty" json:"lava_hostname,omitempty"`
	Commands       CommandSet `yaml:"commands,omitempty" json:"commands,omitempty"`
}

// SSHConfig contains SSH connection details for the control hosts
type SSHConfig struct {
	Transport    string   `yaml:"transport,omitempty" json:"transport,omitempty" jsonschema:"enum=openssh,enum=native"`
	User         string   `yaml:"user,omitempty" json:"user,omitempty"`
	Port         int      `yaml:"port,omitempty" json:"port,omitempty"`
	IdentityFile string   `yaml:"identity_file,omitempty" json:"identity_file,omitempty"`
	KnownHosts   string   `yaml:"known_hosts,omitempty" json:"known_hosts,omitempty"`
	StrictHost   *bool    `yaml:"strict_host_key,omitempty" json:"strict_host_key,omitempty"`
	Options      []string `yaml:"options,omitempty" json:"options,omitempty"`
}

// FastbootConfig contains the fastboot wrapper settings
type FastbootConfig struct {
	LocalPath  string `yaml:"local_path,omitempty" json:"local_path,omitempty"`
	RemotePath string `yaml:"remote_path,omitempty" json:"remote_path,omitempty"`
	StagingDir string `yaml:"staging_dir,omitempty" json:"staging_dir,omitempty"`
}

// LAVAConfig contains the LAVA XML-RPC endpoint used by the health helper
type LAVAConfig struct {
	Scheme   string `yaml:"scheme,omitempty" json:"scheme,omitempty"`
	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Token    string `yaml:"token,omitempty" json:"token,omitempty"`
	Worker   string `yaml:"worker,omitempty" json:"worker,omitempty"`
	Reason   string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// ApplyDefaults fills the optional sections so callers never see nil
func (f *File) ApplyDefaults() {
	if f.SSH == nil {
		f.SSH = &SSHConfig{}
	}
	if f.SSH.Transport == "" {
		f.SSH.Transport = DefaultTransport
	}

	if f.Fastboot == nil {
		f.Fastboot = &FastbootConfig{}
	}
	if f.Fastboot.LocalPath == "" {
		f.Fastboot.LocalPath = DefaultLocalFastboot
	}
	if f.Fastboot.RemotePath == "" {
		f.Fastboot.RemotePath = DefaultRemoteFastboot
	}
	if f.Fastboot.StagingDir == "" {
		f.Fastboot.StagingDir = DefaultStagingDir
	}

	if f.LAVA == nil {
		f.LAVA = &LAVAConfig{}
	}
	if f.LAVA.Scheme == "" {
		f.LAVA.Scheme = DefaultLAVAScheme
	}
	if f.LAVA.Reason == "" {
		f.LAVA.Reason = DefaultHealthReason
	}
}

// StrictHostKey reports whether host keys must be verified (native transport only)
func (c *SSHConfig) StrictHostKey() bool {
	if c == nil || c.StrictHost == nil {
		return true
	}
	return *c.StrictHost
}
