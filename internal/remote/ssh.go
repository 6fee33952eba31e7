// Package remote installs and controls the node service on cluster hosts
// over SSH.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Runner executes commands and writes files on a host.
type Runner interface {
	Run(ctx context.Context, host, cmd string) (string, error)
	Upload(ctx context.Context, host, path string, data []byte, mode os.FileMode) error
}

// SSHOptions configures SSH connections.
type SSHOptions struct {
	User    string
	KeyPath string
	Port    int
	Timeout time.Duration
}

// SSH is a Runner dialing a fresh connection per call.
type SSH struct {
	config *ssh.ClientConfig
	port   int
	logger zerolog.Logger
}

// NewSSH loads the private key and prepares the client configuration.
// Host keys are not verified: hosts are freshly created and have no known
// key yet.
func NewSSH(opts SSHOptions, logger zerolog.Logger) (*SSH, error) {
	key, err := os.ReadFile(opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", opts.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", opts.KeyPath, err)
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	return &SSH{
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         opts.Timeout,
		},
		port:   opts.Port,
		logger: logger.With().Str("component", "ssh").Logger(),
	}, nil
}

func (s *SSH) dial(ctx context.Context, host string) (*ssh.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(s.port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, s.config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// session runs fn on a new session and closes the connection when ctx is
// cancelled, which unblocks fn.
func (s *SSH) session(ctx context.Context, host string, fn func(*ssh.Session) error) error {
	client, err := s.dial(ctx, host)
	if err != nil {
		return err
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session on %s: %w", host, err)
	}
	defer sess.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()

	err = fn(sess)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *SSH) Run(ctx context.Context, host, cmd string) (string, error) {
	s.logger.Debug().Str("host", host).Str("cmd", cmd).Msg("running remote command")
	var out []byte
	err := s.session(ctx, host, func(sess *ssh.Session) error {
		var err error
		out, err = sess.CombinedOutput(cmd)
		return err
	})
	if err != nil {
		return string(out), fmt.Errorf("ssh %s %q: %w\n%s", host, cmd, err, out)
	}
	return string(out), nil
}

// Upload writes data to path through sudo so root-owned locations work.
func (s *SSH) Upload(ctx context.Context, host, path string, data []byte, mode os.FileMode) error {
	s.logger.Debug().Str("host", host).Str("path", path).Int("bytes", len(data)).Msg("uploading file")
	cmd := uploadCommand(path, mode)
	var out []byte
	err := s.session(ctx, host, func(sess *ssh.Session) error {
		sess.Stdin = bytes.NewReader(data)
		var err error
		out, err = sess.CombinedOutput(cmd)
		return err
	})
	if err != nil {
		return fmt.Errorf("upload to %s:%s: %w\n%s", host, path, err, out)
	}
	return nil
}

func uploadCommand(path string, mode os.FileMode) string {
	p := shellQuote(path)
	return fmt.Sprintf("sudo tee %s > /dev/null && sudo chmod %o %s", p, mode.Perm(), p)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
