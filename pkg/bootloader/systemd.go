package bootloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kairos-io/diskcore/internal/constants"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/twpayne/go-vfs/v4"
)

const loaderTimeout = "timeout 15"

func (d *Dispatcher) checkSystemd(req Request) error {
	if !d.Caps.UEFI {
		return fmt.Errorf("%w: systemd-boot needs UEFI", constants.ErrHardwareIncompatible)
	}
	if req.EFI == nil {
		return fmt.Errorf("%w: could not detect the EFI system partition", constants.ErrConfiguration)
	}
	if req.EFI.Mountpoint == "" {
		return fmt.Errorf("%w: EFI system partition %s has no mountpoint", constants.ErrConfiguration, req.EFI.DevPath)
	}
	if d.Mounted != nil {
		mounted, err := d.Mounted(d.path(req.EFI.RelativeMountpoint()))
		if err != nil {
			return err
		}
		if !mounted {
			return fmt.Errorf("%w: EFI system partition is not mounted at %s", constants.ErrConfiguration, d.path(req.EFI.RelativeMountpoint()))
		}
	}
	return nil
}

func (d *Dispatcher) installSystemd(req Request) error {
	var opts []string
	if req.Boot != req.EFI {
		opts = append(opts, "--esp-path="+req.EFI.Mountpoint, "--boot-path="+req.Boot.Mountpoint)
	}

	cmd := strings.Join(append(append([]string{"bootctl"}, opts...), "install"), " ")
	out, err := d.Runner.Run(cmd)
	if err != nil {
		// bootctl refuses to touch EFI variables when it thinks it runs in a container
		internalUtils.Log.Warn().Err(err).Str("out", out).Msg("bootctl install failed, retrying without EFI variables")
		cmd = strings.Join(append(append([]string{"bootctl", "--no-variables"}, opts...), "install"), " ")
		if out, err = d.Runner.Run(cmd); err != nil {
			return fmt.Errorf("%s: %w: %s", cmd, err, strings.TrimSpace(out))
		}
	}

	stamp := d.Now().Format("2006-01-02_15-04-05")
	var defaultEntry string
	if req.UKI {
		prefix := d.EntryPrefix
		if prefix == "" {
			prefix = "linux"
		}
		defaultEntry = fmt.Sprintf("%s-%s.efi", prefix, req.Kernels[0])
	} else {
		defaultEntry = entryName(stamp, req.Kernels[0])
		if err := d.writeEntries(req, stamp); err != nil {
			return err
		}
	}

	return d.writeLoaderConf(filepath.Join(req.EFI.RelativeMountpoint(), "loader", "loader.conf"), defaultEntry)
}

func entryName(stamp, kernel string) string {
	return fmt.Sprintf("%s_%s.conf", stamp, kernel)
}

// writeEntries writes one boot loader specification entry per kernel under $BOOT.
func (d *Dispatcher) writeEntries(req Request, stamp string) error {
	dir := d.path(req.Boot.RelativeMountpoint(), "loader", "entries")
	if err := vfs.MkdirAll(d.FS, dir, 0o755); err != nil {
		return err
	}
	for _, kernel := range req.Kernels {
		entry := strings.Join([]string{
			"# Created by: diskcore",
			"# Created on: " + stamp,
			fmt.Sprintf("title   Linux (%s)", kernel),
			fmt.Sprintf("linux   /vmlinuz-%s", kernel),
			fmt.Sprintf("initrd  /initramfs-%s.img", kernel),
			"options " + strings.Join(req.Params, " "),
		}, "\n") + "\n"
		if err := d.FS.WriteFile(filepath.Join(dir, entryName(stamp, kernel)), []byte(entry), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// writeLoaderConf points the default at our entry and enables a commented out
// timeout, or writes a fresh file.
func (d *Dispatcher) writeLoaderConf(rel, defaultEntry string) error {
	path := d.path(rel)
	if err := vfs.MkdirAll(d.FS, filepath.Dir(path), 0o755); err != nil {
		return err
	}
	def := "default " + defaultEntry

	var lines []string
	data, err := d.FS.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		lines = []string{def, loaderTimeout}
	case err != nil:
		return err
	default:
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		for i, line := range lines {
			switch {
			case strings.HasPrefix(line, "default"):
				lines[i] = def
			case strings.HasPrefix(line, "#timeout"):
				lines[i] = strings.TrimPrefix(line, "#")
			}
		}
	}
	return d.FS.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}
