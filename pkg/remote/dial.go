package remote

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/user"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultSSHPort = 22

// defaultIdentities are tried, in order, when no identity file is configured
var defaultIdentities = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// dialHost connects to a device host. No dial timeout is set: an unreachable
// host blocks until the OS gives up or the user interrupts.
func (n *Native) dialHost(host string) (*ssh.Client, error) {
	target, err := ParseTarget(host)
	if err != nil {
		return nil, err
	}

	clientCfg, err := n.clientConfig(target)
	if err != nil {
		return nil, err
	}

	addr := target.Address(n.port())
	log.Printf("[SSH] Connecting to %s@%s", clientCfg.User, addr)
	return ssh.Dial("tcp", addr, clientCfg)
}

func (n *Native) port() int {
	if n.cfg.Port != 0 {
		return n.cfg.Port
	}
	return defaultSSHPort
}

// clientConfig assembles user, auth methods and host key checking for target
func (n *Native) clientConfig(target Target) (*ssh.ClientConfig, error) {
	username := target.User
	if username == "" {
		username = n.cfg.User
	}
	if username == "" {
		username = currentUser()
	}

	auths, err := authMethods(n.cfg.IdentityFile)
	if err != nil {
		return nil, err
	}

	hostKeyCB, err := hostKeyCallback(n.cfg.KnownHosts, n.cfg.StrictHostKey())
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            auths,
		HostKeyCallback: hostKeyCB,
	}, nil
}

// authMethods collects public key auth from the identity file (or the default
// identities in ~/.ssh) and from ssh-agent when SSH_AUTH_SOCK is set.
func authMethods(identityFile string) ([]ssh.AuthMethod, error) {
	var auths []ssh.AuthMethod
	var signers []ssh.Signer

	if identityFile != "" {
		signer, err := loadSigner(expandHome(identityFile))
		if err != nil {
			return nil, fmt.Errorf("load key: %w", err)
		}
		signers = append(signers, signer)
	} else if home, err := os.UserHomeDir(); err == nil {
		for _, name := range defaultIdentities {
			signer, err := loadSigner(filepath.Join(home, ".ssh", name))
			if err != nil {
				continue
			}
			signers = append(signers, signer)
		}
	}
	if len(signers) > 0 {
		auths = append(auths, ssh.PublicKeys(signers...))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			ag := agent.NewClient(conn)
			auths = append(auths, ssh.PublicKeysCallback(ag.Signers))
		}
	}

	if len(auths) == 0 {
		return nil, fmt.Errorf("no ssh identity available: set ssh.identity_file or start ssh-agent")
	}
	return auths, nil
}

// loadSigner loads an unencrypted private key. Encrypted keys must be served
// by ssh-agent.
func loadSigner(path string) (ssh.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ssh.ParsePrivateKey(b)
	if err == nil {
		return s, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, fmt.Errorf("private key %s is encrypted; add it to ssh-agent", path)
	}
	return nil, err
}

// hostKeyCallback verifies host keys against known_hosts when strict, and
// fails closed if the file is missing.
func hostKeyCallback(knownHostsPath string, strict bool) (ssh.HostKeyCallback, error) {
	if !strict {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if knownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known_hosts: %w", err)
		}
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}
	knownHostsPath = expandHome(knownHostsPath)

	if _, err := os.Stat(knownHostsPath); err != nil {
		return nil, fmt.Errorf("known_hosts file not found at %s and strict_host_key is enabled", knownHostsPath)
	}
	cb, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	return cb, nil
}

func expandHome(p string) string {
	if len(p) < 2 || p[:2] != "~/" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
