package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rkops/rkctl/internal/config"
	"github.com/rkops/rkctl/internal/kernel"
	"github.com/rkops/rkctl/internal/launcher"
	"github.com/rkops/rkctl/internal/manifest"
	"github.com/rkops/rkctl/internal/observability"
	"github.com/rkops/rkctl/internal/registrar"
	"github.com/rkops/rkctl/internal/remote"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired collaborators shared by the subcommands.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	store    *manifest.Store
	launcher *launcher.Launcher
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var configPath string

	root := &cobra.Command{
		Use:           "rkctl",
		Short:         "manage remote compute kernels over ssh",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the rkctl config file")

	root.AddCommand(newInitCmd(a))
	root.AddCommand(newCreateCmd(a))
	root.AddCommand(newRemoveCmd(a))
	root.AddCommand(newListCmd(a))
	return root
}

func (a *app) init(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = observability.InitLogger("rkctl")
	a.store = manifest.NewStore(cfg.ManifestPath)

	l, err := launcher.New(launcher.Config{
		Store: a.store,
		Registrar: registrar.New(registrar.Config{
			Command: cfg.Registrar.Command,
			Sudo:    !cfg.Registrar.NoSudo,
		}),
		Transport: remote.Config{
			Port:                  cfg.Remote.Port,
			KeyPath:               cfg.SSH.KeyPath,
			KnownHostsPath:        cfg.SSH.KnownHostsPath,
			InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
			CommandTimeout:        cfg.SSH.CommandTimeout(),
		},
		Log: a.log,
	})
	if err != nil {
		return err
	}
	a.launcher = l
	return nil
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create an empty kernel manifest if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Init(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "manifest ready at %s\n", a.store.Path())
			return nil
		},
	}
}

func newCreateCmd(a *app) *cobra.Command {
	var (
		venv         string
		python       string
		name         string
		overwrite    bool
		venvRoot     string
		user         string
		key          string
		requirements string
	)

	cmd := &cobra.Command{
		Use:   "create <host> <kernel-id>",
		Short: "provision a kernel on a remote host and register it locally",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := kernel.New(kernel.Spec{
				Host:        args[0],
				ID:          args[1],
				VenvName:    venv,
				PythonCmd:   python,
				DisplayName: name,
			})
			if err != nil {
				return err
			}
			return a.launcher.Create(cmd.Context(), k, launcher.CreateOptions{
				Overwrite:        overwrite,
				VenvRootDir:      pick(venvRoot, a.cfg.Remote.VenvRoot),
				RemoteUser:       pick(user, a.cfg.Remote.User),
				KeyPath:          key,
				RequirementsFile: requirements,
			})
		},
	}

	cmd.Flags().StringVar(&venv, "venv", "", "remote venv name; empty targets the machine-wide interpreter")
	cmd.Flags().StringVar(&python, "python", "python", "interpreter used to build the kernel")
	cmd.Flags().StringVar(&name, "name", "", "display name (default \"<host> :: <kernel-id>\")")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing registration under the same id")
	cmd.Flags().StringVar(&venvRoot, "venv-root", "", "remote parent directory for new venvs")
	cmd.Flags().StringVar(&user, "user", "", "ssh user for the session")
	cmd.Flags().StringVar(&key, "key", "", "local private key for ssh auth")
	cmd.Flags().StringVar(&requirements, "requirements", "", "local requirements file to install remotely")
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	var (
		user     string
		key      string
		venvRoot string
	)

	cmd := &cobra.Command{
		Use:   "remove <kernel-id>",
		Short: "deregister a kernel locally and on its remote host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.launcher.Remove(cmd.Context(), args[0], launcher.RemoveOptions{
				VenvRootDir: pick(venvRoot, a.cfg.Remote.VenvRoot),
				RemoteUser:  pick(user, a.cfg.Remote.User),
				KeyPath:     key,
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "ssh user when the manifest record carries none")
	cmd.Flags().StringVar(&key, "key", "", "local private key for ssh auth")
	cmd.Flags().StringVar(&venvRoot, "venv-root", "", "remote parent directory holding the venv")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var excludeHost string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "list managed remote kernels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kernels, err := a.launcher.List(excludeHost)
			if err != nil {
				return err
			}
			for _, k := range kernels {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", k.DisplayName, k)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&excludeHost, "exclude-host", "", "drop kernels on this host from the listing")
	return cmd
}

func pick(explicit, fallback string) string {
	if explicit != "" {
		return explicit
	}
	return fallback
}
