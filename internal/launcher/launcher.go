// Package launcher owns the remote kernel lifecycle: provisioning a kernel
// on a remote host over SSH, recording it in the local manifest, and
// finalizing through the external registrar.
//
// Ownership boundary:
// - create/remove/list orchestration
// - idempotency and overwrite policy
// - per-step remote command result policy
package launcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rkops/rkctl/internal/kernel"
	"github.com/rkops/rkctl/internal/manifest"
	"github.com/rkops/rkctl/internal/registrar"
	"github.com/rkops/rkctl/internal/remote"
)

var (
	ErrAlreadyExists       = errors.New("launcher: kernel already exists")
	ErrRemoteAlreadyExists = errors.New("launcher: kernel already registered on remote")
	ErrNotFound            = errors.New("launcher: kernel not found")
	ErrProvision           = errors.New("launcher: remote provisioning failed")
)

const (
	DefaultRemoteUser  = "ubuntu"
	DefaultVenvRootDir = "~/"
)

// Config wires the launcher's collaborators. Store is required; everything
// else has a usable default.
type Config struct {
	Store     *manifest.Store
	Registrar *registrar.Registrar
	// Dial opens remote sessions; tests inject a fake here.
	Dial remote.Dialer
	// Transport is the connection template: host, user, and key are filled
	// in per operation, the rest (known hosts, timeouts) comes from here.
	Transport remote.Config
	Log       zerolog.Logger
}

// Launcher chains the non-transactional remote provisioning steps into
// create and remove operations that behave sanely under re-invocation.
type Launcher struct {
	store     *manifest.Store
	registrar *registrar.Registrar
	dial      remote.Dialer
	transport remote.Config
	log       zerolog.Logger
}

// New builds a launcher from cfg.
func New(cfg Config) (*Launcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("launcher: manifest store is required")
	}
	reg := cfg.Registrar
	if reg == nil {
		reg = registrar.New(registrar.Config{Sudo: true})
	}
	dial := cfg.Dial
	if dial == nil {
		dial = remote.Dial
	}
	return &Launcher{
		store:     cfg.Store,
		registrar: reg,
		dial:      dial,
		transport: cfg.Transport,
		log:       cfg.Log,
	}, nil
}

// CreateOptions control one Create call.
type CreateOptions struct {
	// Overwrite permits replacing an existing kernel with the same id,
	// both locally and on the remote.
	Overwrite bool
	// VenvRootDir is the remote parent directory for new venvs.
	VenvRootDir string
	// RemoteUser is the SSH user for the session.
	RemoteUser string
	// KeyPath points at a local private key; empty falls back to
	// ~/.ssh/config and then ~/.ssh/id_rsa.
	KeyPath string
	// RequirementsFile is a local package list to install into the
	// provisioned environment.
	RequirementsFile string
}

func (o CreateOptions) withDefaults() CreateOptions {
	if o.VenvRootDir == "" {
		o.VenvRootDir = DefaultVenvRootDir
	}
	if o.RemoteUser == "" {
		o.RemoteUser = DefaultRemoteUser
	}
	return o
}

// RemoveOptions control one Remove call.
type RemoveOptions struct {
	VenvRootDir string
	// RemoteUser is only used when the manifest record carries no user.
	RemoteUser string
	KeyPath    string
}

func (o RemoveOptions) withDefaults() RemoveOptions {
	if o.VenvRootDir == "" {
		o.VenvRootDir = DefaultVenvRootDir
	}
	if o.RemoteUser == "" {
		o.RemoteUser = DefaultRemoteUser
	}
	return o
}

// Create provisions the kernel on its host and records it locally.
//
// The duplicate scan runs before any session opens: re-creating the same id
// with the same configuration needs Overwrite, while the same configuration
// under a different id is only warned about. Remote steps then run strictly
// in order on one session; the first failing provisioning command aborts the
// sequence. No rollback is attempted, so a failed create can leave partial
// remote state behind; re-running the same create is the recovery path,
// since every step is idempotent or overwrite-guarded.
func (l *Launcher) Create(ctx context.Context, k kernel.Kernel, opts CreateOptions) error {
	opts = opts.withDefaults()
	log := l.opLog("create", k.ID, k.Host)

	overwrite, err := l.scanManifest(k, opts.Overwrite, log)
	if err != nil {
		return err
	}

	sess, err := l.dial(l.transportFor(k.Host, opts.RemoteUser, opts.KeyPath))
	if err != nil {
		return fmt.Errorf("connect %s@%s: %w", opts.RemoteUser, k.Host, err)
	}
	defer sess.Close()

	paths := resolvePaths(k, opts.VenvRootDir)

	if err := l.ensureVenv(ctx, sess, k, paths, log); err != nil {
		return err
	}
	sudo, err := l.probeSudo(ctx, sess, k, paths)
	if err != nil {
		return err
	}
	if err := l.installJupyter(ctx, sess, k, paths, sudo); err != nil {
		return err
	}
	if err := l.checkRemoteRegistered(ctx, sess, k, paths, opts.Overwrite); err != nil {
		return err
	}
	if err := l.registerRemoteKernel(ctx, sess, k, paths, sudo, log); err != nil {
		return err
	}
	if opts.RequirementsFile != "" {
		if err := l.installRequirements(ctx, sess, k, paths, opts.RequirementsFile, sudo, log); err != nil {
			return err
		}
	}

	if err := l.persist(k, opts.RemoteUser, opts.Overwrite); err != nil {
		return err
	}

	if overwrite {
		if err := l.registrar.Uninstall(k.ID); err != nil {
			return err
		}
	}
	if err := l.registrar.Install(k.ID); err != nil {
		return err
	}

	log.Info().Str("display_name", k.DisplayName).Msg("kernel created")
	return nil
}

// Remove deregisters kernel id locally and, best-effort, on its remote
// host. The manifest keeps every surviving record.
func (l *Launcher) Remove(ctx context.Context, id string, opts RemoveOptions) error {
	opts = opts.withDefaults()

	records, err := l.store.Load()
	if err != nil {
		return err
	}
	rec, ok := records[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	log := l.opLog("remove", id, rec.Host())

	// Remote kernelspec removal is advisory: an unreachable host must not
	// strand the local manifest entry forever.
	l.deregisterRemote(ctx, rec, id, opts, log)

	if err := l.registrar.Uninstall(id); err != nil {
		return err
	}

	if err := l.store.Update(func(records map[string]manifest.Record) error {
		if _, ok := records[id]; !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		delete(records, id)
		return nil
	}); err != nil {
		return err
	}

	log.Info().Msg("kernel removed")
	return nil
}

// List returns every managed kernel, optionally dropping entries on
// excludeHost. No remote interaction.
func (l *Launcher) List(excludeHost string) ([]kernel.Kernel, error) {
	return l.store.List(excludeHost)
}

// scanManifest applies the duplicate policy from the manifest side. It
// returns whether this create replaces an existing registration under the
// same id.
func (l *Launcher) scanManifest(k kernel.Kernel, allowOverwrite bool, log zerolog.Logger) (bool, error) {
	installed, err := l.store.List("")
	if err != nil {
		return false, err
	}

	overwrite := false
	for _, existing := range installed {
		if !existing.Equal(k) {
			continue
		}
		if existing.ID == k.ID {
			if !allowOverwrite {
				return false, fmt.Errorf("%w: %q on host %q (pass overwrite to replace it)", ErrAlreadyExists, k.ID, k.Host)
			}
			overwrite = true
			log.Info().Msg("replacing existing kernel registration")
		} else {
			log.Warn().Str("existing", existing.ID).
				Msg("existing kernel has the same host, venv, and interpreter")
		}
	}
	return overwrite, nil
}

// persist records the kernel under its id, re-checking the id collision
// under the manifest lock to close the window since scanManifest.
func (l *Launcher) persist(k kernel.Kernel, user string, allowOverwrite bool) error {
	return l.store.Update(func(records map[string]manifest.Record) error {
		if existing, ok := records[k.ID]; ok && !allowOverwrite {
			if ek, err := existing.Kernel(k.ID); err == nil && ek.Equal(k) {
				return fmt.Errorf("%w: %q on host %q (pass overwrite to replace it)", ErrAlreadyExists, k.ID, k.Host)
			}
		}
		records[k.ID] = manifest.NewRecord(k, user)
		return nil
	})
}

func (l *Launcher) transportFor(host, user, keyPath string) remote.Config {
	cfg := l.transport
	cfg.Host = host
	cfg.User = user
	if keyPath != "" {
		cfg.KeyPath = keyPath
	}
	return cfg
}

func (l *Launcher) opLog(op, id, host string) zerolog.Logger {
	return l.log.With().
		Str("op", op).
		Str("op_id", uuid.NewString()).
		Str("kernel", id).
		Str("host", host).
		Logger()
}
