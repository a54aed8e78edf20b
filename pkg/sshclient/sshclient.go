// Package sshclient runs commands on peer hosts over SSH. Its one caller is
// local-mode migration, which pre-creates destination images before handing
// the domain to libvirt.
package sshclient

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// Client runs commands on one remote host.
type Client interface {
	// Run executes command and returns its combined output.
	Run(command string) (string, error)
	Close() error
}

// Dialer opens a Client to host as user. Operations hold a Dialer so tests
// can substitute a recorder.
type Dialer func(host, user string) (Client, error)

// Dial connects to host:22 as user using the root key pair, mirroring how
// hosts in the fleet trust each other for migration.
func Dial(host, user string) (Client, error) {
	key, err := os.ReadFile(defaultKeyPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	conn, err := ssh.Dial("tcp", net.JoinHostPort(host, "22"), &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Peer hosts are provisioned by the same control plane; host keys
		// churn on reinstall and are not pinned here.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", host, err)
	}

	return &client{conn: conn}, nil
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/root"
	}
	return filepath.Join(home, ".ssh", "id_rsa")
}

type client struct {
	conn *ssh.Client
}

func (c *client) Run(command string) (string, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	if err := session.Run(command); err != nil {
		return out.String(), fmt.Errorf("remote command %q failed: %w", command, err)
	}
	return out.String(), nil
}

func (c *client) Close() error {
	return c.conn.Close()
}
