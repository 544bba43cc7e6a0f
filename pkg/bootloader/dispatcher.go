package bootloader

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kairos-io/diskcore/internal/constants"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/kairos-io/diskcore/pkg/completion"
	"github.com/kairos-io/diskcore/pkg/platform"
	"github.com/moby/sys/mountinfo"
	"github.com/twpayne/go-vfs/v4"
)

// Runner runs a command inside the target system.
type Runner interface {
	Run(command string) (string, error)
}

// Dispatcher installs one of the boot loader variants into the mounted target.
type Dispatcher struct {
	FS     vfs.FS
	Target string
	Caps   platform.Capabilities
	Runner Runner
	Flags  *completion.Flags
	// Mounted reports whether a path is a mountpoint, mountinfo.Mounted unless set.
	Mounted func(path string) (bool, error)
	// Now stamps boot entries, time.Now unless set.
	Now func() time.Time
	// EntryPrefix names unified kernel images, "linux" unless set.
	EntryPrefix string
	// RequireSecureBoot refuses unified kernel images on machines booting
	// without secure boot.
	RequireSecureBoot bool
}

func NewDispatcher(fs vfs.FS, target string, caps platform.Capabilities, runner Runner, flags *completion.Flags) *Dispatcher {
	return &Dispatcher{
		FS:      fs,
		Target:  target,
		Caps:    caps,
		Runner:  runner,
		Flags:   flags,
		Mounted: mountinfo.Mounted,
		Now:     time.Now,
	}
}

func (d *Dispatcher) path(p ...string) string {
	return filepath.Join(append([]string{d.Target}, p...)...)
}

// Install checks the request against the variant and the platform before touching
// the target, then installs. The completion flag is only set on success.
func (d *Dispatcher) Install(v Variant, req Request) error {
	log := internalUtils.Log.With().Str("bootloader", string(v)).Bool("uki", req.UKI).Logger()

	if err := req.validate(); err != nil {
		return err
	}
	log.Info().Str("boot", req.Boot.DevPath).Str("root", req.Root.String()).Msg("Adding bootloader")

	var install func(Request) error
	switch v {
	case SystemdBoot:
		if err := d.checkSystemd(req); err != nil {
			log.Err(err).Msg("systemd-boot requirements")
			return err
		}
		install = d.installSystemd
	case Grub, Limine, EfiStub:
		err := fmt.Errorf("%w: %s bootloader", constants.ErrUnimplemented, v)
		log.Err(err).Send()
		return err
	default:
		return fmt.Errorf("%w: unknown bootloader %q", constants.ErrConfiguration, v)
	}

	if req.UKI {
		if err := d.checkSecureBoot(); err != nil {
			log.Err(err).Send()
			return err
		}
		if err := d.configUKI(req); err != nil {
			return err
		}
	}

	if err := install(req); err != nil {
		log.Err(err).Msg("installing bootloader")
		return err
	}
	if d.Flags != nil {
		d.Flags.Bootloader = string(v)
	}
	log.Info().Msg("Bootloader installed")
	return nil
}

// checkSecureBoot only matters for unified kernel images: without secure boot
// nothing verifies the signed image and its embedded command line.
func (d *Dispatcher) checkSecureBoot() error {
	if d.Caps.SecureBoot {
		return nil
	}
	if d.RequireSecureBoot {
		return fmt.Errorf("%w: secure boot is not enabled", constants.ErrHardwareIncompatible)
	}
	internalUtils.Log.Warn().Msg("Secure boot is not enabled, unified kernel images will not be verified")
	return nil
}

// configUKI writes the command line the image is built with and creates the
// directory the images are picked up from.
func (d *Dispatcher) configUKI(req Request) error {
	if req.EFI == nil || req.EFI.Mountpoint == "" {
		return fmt.Errorf("%w: unified kernel images need a mounted EFI system partition", constants.ErrConfiguration)
	}
	cmdline := d.path(constants.KernelCmdline)
	if err := vfs.MkdirAll(d.FS, filepath.Dir(cmdline), 0o755); err != nil {
		return err
	}
	if err := d.FS.WriteFile(cmdline, []byte(strings.Join(req.Params, " ")+"\n"), 0o644); err != nil {
		return err
	}
	return vfs.MkdirAll(d.FS, d.path(req.EFI.RelativeMountpoint(), "EFI", "Linux"), 0o755)
}
