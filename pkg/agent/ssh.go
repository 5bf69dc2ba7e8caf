package agent

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"golang.org/x/crypto/ssh"
)

// Restarter restarts the agent service on a host out of band
type Restarter interface {
	RestartAgent(ctx context.Context, address, username, password string) error
}

// SSHRestarter restarts the agent over SSH with password authentication
type SSHRestarter struct {
	Port    int
	Service string
	Timeout time.Duration
}

// NewSSHRestarter returns a restarter for the given service name
func NewSSHRestarter(port int, service string) *SSHRestarter {
	if port == 0 {
		port = 22
	}
	return &SSHRestarter{Port: port, Service: service, Timeout: 30 * time.Second}
}

// RestartAgent runs "systemctl restart <service>" on address
func (r *SSHRestarter) RestartAgent(ctx context.Context, address, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("no credentials to restart agent on %s", address)
	}

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.Timeout,
	}

	addr := net.JoinHostPort(address, strconv.Itoa(r.Port))
	dialer := net.Dialer{Timeout: r.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	command := "systemctl restart " + r.Service
	output, err := session.CombinedOutput(command)
	if err != nil {
		return fmt.Errorf("command failed: %w (output: %s)", err, string(output))
	}

	log.Logger.Info().
		Str("address", address).
		Str("service", r.Service).
		Msg("Agent restarted over SSH")
	return nil
}
