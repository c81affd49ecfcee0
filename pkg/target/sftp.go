package target

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes a remote target reachable over SSH/SFTP.
type SSHConfig struct {
	// Host is the remote host name or address.
	Host string

	// Port is the SSH port. Defaults to 22.
	Port int

	// User is the SSH user.
	User string

	// Path is the target root on the remote host.
	Path string

	// PrivateKeyPath is the path to an SSH private key. When empty,
	// password authentication is used.
	PrivateKeyPath string

	// Password is the SSH password for password authentication.
	Password string

	// KnownHostsPath is the known_hosts file used for host key
	// verification. Defaults to ~/.ssh/known_hosts.
	KnownHostsPath string

	// InsecureIgnoreHostKey disables host key verification. Test and
	// lab use only.
	InsecureIgnoreHostKey bool

	// ConnectTimeout bounds the SSH dial. Defaults to 30s.
	ConnectTimeout time.Duration
}

// ParseSSHTarget parses a target URL of the form
// ssh://user@host[:port]/path into an SSHConfig.
func ParseSSHTarget(raw string) (*SSHConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL %q: %w", raw, err)
	}
	if u.Scheme != "ssh" {
		return nil, fmt.Errorf("invalid target URL %q: expected ssh:// scheme", raw)
	}
	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("invalid target URL %q: user is required", raw)
	}
	if u.Path == "" || u.Path == "/" {
		return nil, fmt.Errorf("invalid target URL %q: remote path is required", raw)
	}

	cfg := &SSHConfig{
		Host: u.Hostname(),
		Port: 22,
		User: u.User.Username(),
		Path: u.Path,
	}
	if pw, ok := u.User.Password(); ok {
		cfg.Password = pw
	}
	if p := u.Port(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &cfg.Port); err != nil {
			return nil, fmt.Errorf("invalid port in target URL %q", raw)
		}
	}
	return cfg, nil
}

// Remote is an SFTP-backed target tree on a remote host.
type Remote struct {
	config     *SSHConfig
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// DialRemote connects to the remote host and opens an SFTP session
// rooted at the configured path.
func DialRemote(cfg *SSHConfig) (*Remote, error) {
	auth, err := cfg.authMethods()
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := cfg.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	address := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	sshClient, err := ssh.Dial("tcp", address, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("failed to open SFTP session on %s: %w", address, err)
	}

	if err := sftpClient.MkdirAll(cfg.Path); err != nil {
		_ = sftpClient.Close()
		_ = sshClient.Close()
		return nil, fmt.Errorf("failed to create remote target root %s: %w", cfg.Path, err)
	}

	return &Remote{
		config:     cfg,
		sshClient:  sshClient,
		sftpClient: sftpClient,
	}, nil
}

func (c *SSHConfig) authMethods() ([]ssh.AuthMethod, error) {
	if c.PrivateKeyPath != "" {
		key, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key %s: %w", c.PrivateKeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", c.PrivateKeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	if c.Password != "" {
		return []ssh.AuthMethod{ssh.Password(c.Password)}, nil
	}

	return nil, fmt.Errorf("remote target %s: no authentication method configured", c.Host)
}

func (c *SSHConfig) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // opt-in for lab targets
	}

	knownHosts := c.KnownHostsPath
	if knownHosts == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
		}
		knownHosts = path.Join(home, ".ssh", "known_hosts")
	}

	callback, err := knownhosts.New(knownHosts)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", knownHosts, err)
	}
	return callback, nil
}

// Root returns the remote target root in URL form.
func (r *Remote) Root() string {
	return fmt.Sprintf("ssh://%s@%s%s", r.config.User, r.config.Host, r.config.Path)
}

// ReadFile reads a remote file relative to the root.
func (r *Remote) ReadFile(rel string) ([]byte, error) {
	clean, err := Normalize(rel)
	if err != nil {
		return nil, err
	}

	f, err := r.sftpClient.Open(path.Join(r.config.Path, clean))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// WriteFile writes a remote file relative to the root, creating parent
// directories as needed.
func (r *Remote) WriteFile(rel string, data []byte, mode os.FileMode) error {
	clean, err := Normalize(rel)
	if err != nil {
		return err
	}

	remotePath := path.Join(r.config.Path, clean)
	if err := r.sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create remote directory for %s: %w", rel, err)
	}

	f, err := r.sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", rel, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write remote file %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close remote file %s: %w", rel, err)
	}

	return r.sftpClient.Chmod(remotePath, mode)
}

// Stat stats a remote path relative to the root.
func (r *Remote) Stat(rel string) (os.FileInfo, error) {
	clean, err := Normalize(rel)
	if err != nil {
		return nil, err
	}
	return r.sftpClient.Stat(path.Join(r.config.Path, clean))
}

// Close closes the SFTP session and the underlying SSH connection.
func (r *Remote) Close() error {
	sftpErr := r.sftpClient.Close()
	sshErr := r.sshClient.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}
