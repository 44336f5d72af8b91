// Package droplet implements sandbox.Provider by provisioning one
// DigitalOcean droplet per project (SPEC_FULL.md §4.J), using
// digitalocean/godo for lifecycle and golang.org/x/crypto/ssh for exec and
// file operations. Grounded on soyeahso-hunter3's
// cmd/mcp-digitalocean/main.go, the pack repo that drives godo's
// Droplets/DropletActions services directly against a token-authenticated
// client.
package droplet

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/digitalocean/godo"
	"golang.org/x/crypto/ssh"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/sandbox"
)

// Options configures the provider.
type Options struct {
	Region    string // e.g. "nyc3"
	Size      string // e.g. "s-1vcpu-2gb"
	Image     string // e.g. "ubuntu-22-04-x64"
	SSHKeyIDs []int
	SSHUser   string // default "root"
	Signer    ssh.Signer
}

// Provider is a sandbox.Provider backed by DigitalOcean droplets.
type Provider struct {
	client *godo.Client
	opts   Options

	mu       sync.Mutex
	droplets map[string]dropletInfo // ref -> info
}

type dropletInfo struct {
	id   int
	addr string
}

// New builds a Provider authenticated with token (SANDBOX_API_KEY per
// SPEC_FULL.md §4.J).
func New(token string, opts Options) *Provider {
	if opts.SSHUser == "" {
		opts.SSHUser = "root"
	}
	return &Provider{
		client:   godo.NewFromToken(token),
		opts:     opts,
		droplets: make(map[string]dropletInfo),
	}
}

var _ sandbox.Provider = (*Provider)(nil)

// Create provisions a droplet and returns its ref as "droplet-<id>". Per
// spec.md §5, provisioning uses a 30s timeout with one retry.
func (p *Provider) Create(ctx context.Context, projectID string) (string, error) {
	req := &godo.DropletCreateRequest{
		Name:   fmt.Sprintf("agentcore-%s", projectID),
		Region: p.opts.Region,
		Size:   p.opts.Size,
		Image:  godo.DropletCreateImage{Slug: p.opts.Image},
	}
	for _, id := range p.opts.SSHKeyIDs {
		req.SSHKeys = append(req.SSHKeys, godo.DropletCreateSSHKey{ID: id})
	}

	var d *godo.Droplet
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		createCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		var err error
		d, _, err = p.client.Droplets.Create(createCtx, req)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
	}
	if lastErr != nil {
		return "", errs.Wrap(errs.UpstreamFailure, "create droplet", lastErr)
	}

	ref := "droplet-" + strconv.Itoa(d.ID)
	p.mu.Lock()
	p.droplets[ref] = dropletInfo{id: d.ID}
	p.mu.Unlock()
	return ref, nil
}

// Start powers the droplet on (or waits for its initial boot) and resolves
// its public IP for SSH.
func (p *Provider) Start(ctx context.Context, ref string) error {
	info, err := p.infoFor(ref)
	if err != nil {
		return err
	}
	if _, _, err := p.client.DropletActions.PowerOn(ctx, info.id); err != nil {
		return errs.Wrap(errs.UpstreamFailure, "power on droplet", err)
	}
	d, _, err := p.client.Droplets.Get(ctx, info.id)
	if err != nil {
		return errs.Wrap(errs.UpstreamFailure, "get droplet", err)
	}
	addr, err := d.PublicIPv4()
	if err != nil {
		return errs.Wrap(errs.UpstreamFailure, "resolve droplet public ip", err)
	}
	p.mu.Lock()
	info.addr = addr
	p.droplets[ref] = info
	p.mu.Unlock()
	return nil
}

// Stop destroys the droplet rather than merely powering it off, so no
// billed resource is left behind. No code in agentcore calls it when a
// project's last run completes.
func (p *Provider) Stop(ctx context.Context, ref string) error {
	info, err := p.infoFor(ref)
	if err != nil {
		return nil // idempotent
	}
	if _, err := p.client.Droplets.Delete(ctx, info.id); err != nil {
		return errs.Wrap(errs.UpstreamFailure, "delete droplet", err)
	}
	p.mu.Lock()
	delete(p.droplets, ref)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Exec(ctx context.Context, ref string, command string, timeout time.Duration) (sandbox.ExecResult, error) {
	session, client, err := p.dial(ctx, ref)
	if err != nil {
		return sandbox.ExecResult{}, err
	}
	defer client.Close()
	defer session.Close()

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	done := make(chan error, 1)
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	go func() { done <- session.Run(command) }()

	select {
	case err := <-done:
		res := sandbox.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		if err != nil {
			return res, errs.Wrap(errs.UpstreamFailure, "sandbox exec failed", err)
		}
		return res, nil
	case <-time.After(timeout):
		return sandbox.ExecResult{}, errs.New(errs.UpstreamTimeout, "sandbox exec timed out")
	case <-ctx.Done():
		return sandbox.ExecResult{}, errs.Wrap(errs.Cancelled, "sandbox exec cancelled", ctx.Err())
	}
}

// WriteFile streams data to path via a shell redirection, avoiding a
// dedicated SFTP dependency for what tool handlers use as small text/byte
// writes.
func (p *Provider) WriteFile(ctx context.Context, ref, path string, data []byte) error {
	cmd := fmt.Sprintf("cat > %s", shellQuote(path))
	session, client, err := p.dial(ctx, ref)
	if err != nil {
		return err
	}
	defer client.Close()
	defer session.Close()

	session.Stdin = bytes.NewReader(data)
	if err := session.Run(cmd); err != nil {
		return errs.Wrap(errs.UpstreamFailure, "write file over ssh", err)
	}
	return nil
}

func (p *Provider) ReadFile(ctx context.Context, ref, path string) ([]byte, error) {
	res, err := p.Exec(ctx, ref, "cat "+shellQuote(path), 30*time.Second)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, errs.New(errs.NotFound, "file not found: "+path)
	}
	return []byte(res.Stdout), nil
}

func (p *Provider) ListDir(ctx context.Context, ref, path string) ([]sandbox.DirEntry, error) {
	res, err := p.Exec(ctx, ref, fmt.Sprintf("ls -1p %s", shellQuote(path)), 30*time.Second)
	if err != nil {
		return nil, err
	}
	var out []sandbox.DirEntry
	for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if line == "" {
			continue
		}
		out = append(out, sandbox.DirEntry{Name: strings.TrimSuffix(line, "/"), IsDir: strings.HasSuffix(line, "/")})
	}
	return out, nil
}

func (p *Provider) infoFor(ref string) (dropletInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.droplets[ref]
	if !ok {
		return dropletInfo{}, errs.New(errs.NotFound, "unknown sandbox ref: "+ref)
	}
	return info, nil
}

func (p *Provider) dial(ctx context.Context, ref string) (*ssh.Session, *ssh.Client, error) {
	info, err := p.infoFor(ref)
	if err != nil {
		return nil, nil, err
	}
	if info.addr == "" {
		return nil, nil, errs.New(errs.Internal, "sandbox not started: "+ref)
	}
	config := &ssh.ClientConfig{
		User:            p.opts.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(p.opts.Signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint: the sandbox host key is not pinned ahead of provisioning
		Timeout:         10 * time.Second,
	}
	client, err := ssh.Dial("tcp", info.addr+":22", config)
	if err != nil {
		return nil, nil, errs.Wrap(errs.UpstreamFailure, "ssh dial sandbox", err)
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, nil, errs.Wrap(errs.UpstreamFailure, "ssh new session", err)
	}
	return session, client, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
