package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kairos-io/diskcore/internal/constants"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/kairos-io/diskcore/internal/version"
	"github.com/kairos-io/diskcore/pkg/dag"
	"github.com/kairos-io/diskcore/pkg/device"
	"github.com/kairos-io/diskcore/pkg/platform"
	"github.com/kairos-io/diskcore/pkg/schema"
	"github.com/kairos-io/diskcore/pkg/state"
	"github.com/spectrocloud-labs/herd"
	"github.com/twpayne/go-vfs/v4"
	"github.com/urfave/cli/v2"
)

// Flags are shared by every command.
var Flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "disk layout file",
		EnvVars: []string{"DISKCORE_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "env",
		Usage:   "env file with the install options",
		Value:   constants.DefaultEnv,
		EnvVars: []string{"DISKCORE_ENV"},
	},
	&cli.StringFlag{
		Name:  "target",
		Usage: "where the layout gets mounted",
	},
	&cli.StringFlag{
		Name:    "passphrase-file",
		Usage:   "file holding the encryption passphrase",
		EnvVars: []string{"DISKCORE_PASSPHRASE_FILE"},
	},
	&cli.StringFlag{
		Name:  "bootloader",
		Usage: "systemd-boot, grub, limine or efistub. Defaults to the platform's choice",
	},
	&cli.BoolFlag{
		Name:  "uki",
		Usage: "boot unified kernel images",
	},
	&cli.BoolFlag{
		Name:  "require-secureboot",
		Usage: "refuse unified kernel images when secure boot is disabled",
	},
	&cli.BoolFlag{
		Name:    "dry-run",
		Usage:   "print the steps without running them",
		EnvVars: []string{"DISKCORE_DRY_RUN"},
	},
	&cli.BoolFlag{
		Name:    "debug",
		EnvVars: []string{"DISKCORE_DEBUG"},
	},
}

var Commands = []*cli.Command{
	{
		Name:  "install",
		Usage: "open, mount, generate key material and install the boot loader",
		Description: `
Runs every step of the install in order: validate the layout, unlock and import
the containers, mount them under the target, write fstab, generate keyfiles and
install the boot loader. Lists the steps that did not complete at the end.
`,
		Action: func(c *cli.Context) error {
			return runDAG(c, dag.RegisterInstall)
		},
	},
	{
		Name:  "mount",
		Usage: "open and mount the layout under the target",
		Action: func(c *cli.Context) error {
			return runDAG(c, dag.RegisterMount)
		},
	},
	{
		Name:  "kernel-params",
		Usage: "print the kernel command line for the layout",
		Action: func(c *cli.Context) error {
			s, err := newState(c)
			if err != nil {
				return err
			}
			defer s.WipeSecrets()
			if err := s.Config.Validate(); err != nil {
				return err
			}
			params, err := s.KernelParams()
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(params, " "))
			return nil
		},
	},
	{
		Name:  "check",
		Usage: "validate the layout and report which boot loader would be installed",
		Action: func(c *cli.Context) error {
			s, err := newState(c)
			if err != nil {
				return err
			}
			defer s.WipeSecrets()
			if err := s.Preflight(); err != nil {
				return err
			}
			plan, _ := s.Plan()
			variant, _ := s.SelectedBootloader()
			internalUtils.Log.Info().
				Str("encryption", string(plan.Type())).
				Str("bootloader", string(variant)).
				Bool("uefi", s.Caps.UEFI).
				Bool("secureboot", s.Caps.SecureBoot).
				Msg("Layout is valid")
			return nil
		},
	},
	{
		Name:  "hsm-list",
		Usage: "list the FIDO2 devices usable for enrollment",
		Action: func(c *cli.Context) error {
			devs, err := device.NewLinux().ListFido2Devices()
			if err != nil {
				return err
			}
			for _, d := range devs {
				fmt.Printf("%s\t%s\t%s\n", d.Path, d.Manufacturer, d.Product)
			}
			return nil
		},
	},
	{
		Name:  "version",
		Usage: "version",
		Action: func(c *cli.Context) error {
			v := version.Get()
			internalUtils.Log.Info().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("diskcore")
			return nil
		},
	},
}

// runDAG registers the steps, prints the dag and runs it unless in dry-run.
func runDAG(c *cli.Context, register func(*state.State, *herd.Graph) error) error {
	s, err := newState(c)
	if err != nil {
		return err
	}
	defer s.WipeSecrets()

	g := herd.DAG(herd.EnableInit)
	if err := register(s, g); err != nil {
		return err
	}
	internalUtils.Log.Info().Msg(s.WriteDAG(g))

	// Once we print the dag we can exit already
	if c.Bool("dry-run") {
		return nil
	}

	err = g.Run(context.Background())
	internalUtils.Log.Info().Msg(s.WriteDAG(g))
	if missing := s.PostInstallCheck(); len(missing) > 0 && c.Command.Name == "install" {
		internalUtils.Log.Warn().Strs("missing", missing).Msg("Install did not complete")
	}
	return err
}

// newState reads the layout and the install options and wires the host drivers.
// Flags win over the env file.
func newState(c *cli.Context) (*state.State, error) {
	if c.String("config") == "" {
		return nil, fmt.Errorf("%w: no layout file given", constants.ErrConfiguration)
	}
	cfg, err := schema.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	env, err := internalUtils.ReadEnv(c.String("env"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || c.IsSet("env") {
			return nil, err
		}
		env = map[string]string{}
	}

	opts := state.Options{
		Bootloader:   env["BOOTLOADER"],
		UKI:          internalUtils.EnvBool(env, "UKI"),
		Zram:         internalUtils.EnvBool(env, "ZRAM"),
		ByUUID:       env["PARTUUID"] != "" && !internalUtils.EnvBool(env, "PARTUUID"),
		Kernels:      internalUtils.EnvList(env, "KERNELS"),
		KernelParams: internalUtils.EnvList(env, "KERNEL_PARAMS"),

		RequireSecureBoot: internalUtils.EnvBool(env, "REQUIRE_SECUREBOOT"),
	}
	if c.IsSet("bootloader") {
		opts.Bootloader = c.String("bootloader")
	}
	if c.IsSet("uki") {
		opts.UKI = c.Bool("uki")
	}
	if c.IsSet("require-secureboot") {
		opts.RequireSecureBoot = c.Bool("require-secureboot")
	}

	target := constants.DefaultTarget
	switch {
	case c.IsSet("target"):
		target = c.String("target")
	case env["TARGET"] != "":
		target = env["TARGET"]
	case cfg.Mountpoint != "":
		target = cfg.Mountpoint
	}

	if cfg.DiskEncryption != nil {
		pass, err := readPassphrase(c.String("passphrase-file"))
		if err != nil {
			return nil, err
		}
		cfg.DiskEncryption.Passphrase = pass
	}

	linux := device.NewLinux()
	return &state.State{
		Config:  cfg,
		Target:  target,
		Options: opts,
		Driver:  linux,
		Prober:  linux,
		Crypt:   linux,
		FS:      vfs.OSFS,
		Caps:    platform.Detect(vfs.OSFS),
		Chroot:  internalUtils.NewChroot(target),
	}, nil
}

// readPassphrase takes the passphrase from the file, or from DISKCORE_PASSPHRASE.
// A single trailing newline is not part of it.
func readPassphrase(file string) ([]byte, error) {
	if file == "" {
		if p := os.Getenv("DISKCORE_PASSPHRASE"); p != "" {
			return []byte(p), nil
		}
		return nil, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	data = []byte(strings.TrimSuffix(string(data), "\n"))
	return data, nil
}
