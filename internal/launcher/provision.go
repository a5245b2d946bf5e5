package launcher

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rkops/rkctl/internal/kernel"
	"github.com/rkops/rkctl/internal/manifest"
	"github.com/rkops/rkctl/internal/remote"
)

// remotePaths holds the resolved remote locations for one kernel. With a
// venv the binaries live under <venvRoot>/<venv>/bin; without one the
// machine-wide interpreter and tools are used by name.
type remotePaths struct {
	venvDir string
	python  string
	pip     string
	jupyter string
}

func resolvePaths(k kernel.Kernel, venvRoot string) remotePaths {
	if k.VenvName == "" {
		return remotePaths{
			python:  k.PythonCmd,
			pip:     "pip",
			jupyter: "jupyter",
		}
	}
	dir := path.Join(venvRoot, k.VenvName)
	bin := path.Join(dir, "bin")
	return remotePaths{
		venvDir: dir,
		python:  path.Join(bin, "python"),
		pip:     path.Join(bin, "pip"),
		jupyter: path.Join(bin, "jupyter"),
	}
}

// ensureVenv creates the venv only when its directory does not exist yet.
// The existence probe is advisory; the creation command must succeed.
func (l *Launcher) ensureVenv(ctx context.Context, sess remote.Session, k kernel.Kernel, paths remotePaths, log zerolog.Logger) error {
	if paths.venvDir == "" {
		return nil
	}

	probe, err := sess.Run(ctx, remote.Cmd("test", "-d", paths.venvDir))
	if err != nil {
		return err
	}
	if probe.OK() {
		log.Debug().Str("venv", paths.venvDir).Msg("venv already present, skipping creation")
		return nil
	}

	res, err := sess.Run(ctx, remote.Cmd("virtualenv", "-p="+k.PythonCmd, paths.venvDir))
	if err != nil {
		return err
	}
	if !res.OK() {
		return l.fail("create venv", k, res)
	}
	log.Info().Str("venv", paths.venvDir).Msg("created venv")
	return nil
}

// probeSudo decides whether install and registration commands need
// escalation. Only machine-wide interpreters are probed: an interpreter
// under /usr means system site-packages, which need root to write. The
// probe is advisory; a missing interpreter surfaces at install time.
func (l *Launcher) probeSudo(ctx context.Context, sess remote.Session, k kernel.Kernel, paths remotePaths) (bool, error) {
	if paths.venvDir != "" {
		return false, nil
	}
	res, err := sess.Run(ctx, remote.Cmd("which", paths.python))
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.TrimSpace(res.Stdout), "/usr"), nil
}

func (l *Launcher) installJupyter(ctx context.Context, sess remote.Session, k kernel.Kernel, paths remotePaths, sudo bool) error {
	res, err := sess.Run(ctx, remote.Cmd(paths.pip, "install", "jupyter").WithSudo(sudo))
	if err != nil {
		return err
	}
	if !res.OK() {
		return l.fail("install jupyter", k, res)
	}
	return nil
}

// checkRemoteRegistered fails when the id is already a kernelspec on the
// remote and overwrite was not granted.
func (l *Launcher) checkRemoteRegistered(ctx context.Context, sess remote.Session, k kernel.Kernel, paths remotePaths, allowOverwrite bool) error {
	res, err := sess.Run(ctx, remote.Cmd(paths.jupyter, "kernelspec", "list"))
	if err != nil {
		return err
	}
	if !res.OK() {
		return l.fail("list kernelspecs", k, res)
	}
	if kernelspecListed(res.Stdout, k.ID) && !allowOverwrite {
		return fmt.Errorf("%w: %q on host %q (pass overwrite to replace it)", ErrRemoteAlreadyExists, k.ID, k.Host)
	}
	return nil
}

func (l *Launcher) registerRemoteKernel(ctx context.Context, sess remote.Session, k kernel.Kernel, paths remotePaths, sudo bool, log zerolog.Logger) error {
	res, err := sess.Run(ctx, remote.Cmd(paths.python, "-m", "ipykernel", "install", "--name="+k.ID).WithSudo(sudo))
	if err != nil {
		return err
	}
	if !res.OK() {
		return l.fail("register kernelspec", k, res)
	}
	log.Info().Msg("registered remote kernelspec")
	return nil
}

// installRequirements uploads the local package list next to the venv and
// installs from it.
func (l *Launcher) installRequirements(ctx context.Context, sess remote.Session, k kernel.Kernel, paths remotePaths, localFile string, sudo bool, log zerolog.Logger) error {
	target := path.Join(paths.venvDir, "requirements.txt")
	if err := sess.Upload(ctx, localFile, target); err != nil {
		return err
	}
	res, err := sess.Run(ctx, remote.Cmd(paths.pip, "install", "-r", target).WithSudo(sudo))
	if err != nil {
		return err
	}
	if !res.OK() {
		return l.fail("install requirements", k, res)
	}
	log.Info().Str("requirements", localFile).Msg("installed requirements")
	return nil
}

// deregisterRemote removes the kernelspec from the remote host. Failures
// are logged, not returned: local removal proceeds either way.
func (l *Launcher) deregisterRemote(ctx context.Context, rec manifest.Record, id string, opts RemoveOptions, log zerolog.Logger) {
	user := rec.User()
	if user == "" {
		user = opts.RemoteUser
	}

	sess, err := l.dial(l.transportFor(rec.Host(), user, opts.KeyPath))
	if err != nil {
		log.Warn().Err(err).Msg("host unreachable, skipping remote kernelspec removal")
		return
	}
	defer sess.Close()

	k, err := rec.Kernel(id)
	if err != nil {
		log.Warn().Err(err).Msg("cannot reconstruct kernel, skipping remote kernelspec removal")
		return
	}
	paths := resolvePaths(k, opts.VenvRootDir)

	res, err := sess.Run(ctx, remote.Cmd(paths.jupyter, "kernelspec", "uninstall", "-f", id))
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("remote kernelspec removal failed")
	case !res.OK():
		log.Warn().Int("exit", res.ExitCode).Str("stderr", strings.TrimSpace(res.Stderr)).
			Msg("remote kernelspec removal failed")
	default:
		log.Info().Msg("removed remote kernelspec")
	}
}

// kernelspecListed reports whether id appears in `jupyter kernelspec list`
// output. The first column of each entry line is the kernel name.
func kernelspecListed(stdout, id string) bool {
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == id {
			return true
		}
	}
	return false
}

// fail converts a non-zero remote command into a structured provisioning
// error carrying the kernel id and host.
func (l *Launcher) fail(step string, k kernel.Kernel, res remote.Result) error {
	return fmt.Errorf("%w: %s for %q on host %q exit=%d stderr=%q",
		ErrProvision, step, k.ID, k.Host, res.ExitCode, strings.TrimSpace(res.Stderr))
}
