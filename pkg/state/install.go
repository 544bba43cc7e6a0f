package state

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kairos-io/diskcore/internal/constants"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/kairos-io/diskcore/pkg/bootloader"
	"github.com/kairos-io/diskcore/pkg/kernel"
	"github.com/kairos-io/diskcore/pkg/keys"
	"github.com/twpayne/go-vfs/v4"
)

// Preflight catches configuration and hardware problems before any device is touched.
func (s *State) Preflight() error {
	if err := s.Config.Validate(); err != nil {
		return err
	}
	if _, err := s.Plan(); err != nil {
		return err
	}
	if _, err := s.Config.ResolveBoot(); err != nil {
		return err
	}
	variant, err := bootloader.Select(s.Options.Bootloader, s.Caps)
	if err != nil {
		return err
	}
	if variant == bootloader.SystemdBoot && !s.Caps.UEFI {
		return fmt.Errorf("%w: systemd-boot needs UEFI", constants.ErrHardwareIncompatible)
	}
	if s.Options.UKI && s.Options.RequireSecureBoot && !s.Caps.SecureBoot {
		return fmt.Errorf("%w: unified kernel images need secure boot", constants.ErrHardwareIncompatible)
	}
	return nil
}

// GenerateKeyFiles writes the keyfiles of the secondary containers into the
// mounted target and enrolls root against the HSM. The passphrase is wiped afterwards.
func (s *State) GenerateKeyFiles() error {
	defer s.Config.DiskEncryption.Wipe()

	if s.Config.IsPreMounted() {
		internalUtils.Log.Info().Msg("Layout is pre-mounted, skipping keyfiles")
		s.Flags.KeyFiles = true
		return nil
	}
	if s.keys == nil {
		s.keys = keys.NewManager(s.FS, s.Target, s.Crypt)
	}
	res, err := s.keys.GenerateKeyFiles(s.Config)
	if err != nil {
		return err
	}
	internalUtils.Log.Info().Strs("keyfiles", res.KeyFiles).Strs("enrolled", res.Enrolled).Msg("Key material ready")
	s.Flags.KeyFiles = true
	return nil
}

// KernelParams builds the command line for the resolved root.
func (s *State) KernelParams() ([]string, error) {
	root, err := s.Config.ResolveRoot()
	if err != nil {
		return nil, err
	}
	b := kernel.Builder{
		Prober: s.Prober,
		ByUUID: s.Options.ByUUID,
		Extra:  s.Options.KernelParams,
	}
	return b.Build(root, s.Config.DiskEncryption, s.Options.Zram)
}

// AddBootloader resolves boot, root and the ESP and installs the variant.
// An empty variant picks the platform default.
func (s *State) AddBootloader(name string, uki bool) error {
	variant, err := bootloader.Select(name, s.Caps)
	if err != nil {
		return err
	}

	boot, err := s.Config.ResolveBoot()
	if err != nil {
		return err
	}
	root, err := s.Config.ResolveRoot()
	if err != nil {
		return err
	}
	// BIOS layouts have no ESP, the variant decides whether it needs one.
	efi, err := s.Config.ResolveEFI()
	if err != nil {
		internalUtils.Log.Debug().Err(err).Msg("No EFI system partition")
		efi = nil
	}

	params, err := s.KernelParams()
	if err != nil {
		return err
	}

	kernels := s.Options.Kernels
	if len(kernels) == 0 {
		kernels = []string{"linux"}
	}

	d := s.Dispatcher
	if d == nil {
		d = bootloader.NewDispatcher(s.FS, s.Target, s.Caps, s.Chroot, &s.Flags)
	}
	if d.Flags == nil {
		d.Flags = &s.Flags
	}
	d.RequireSecureBoot = s.Options.RequireSecureBoot
	return d.Install(variant, bootloader.Request{
		Boot:    boot,
		Root:    root,
		EFI:     efi,
		UKI:     uki,
		Params:  params,
		Kernels: kernels,
	})
}

// WriteFstab writes the collected mounts to the target's fstab, replacing any previous content.
func (s *State) WriteFstab() error {
	if s.Config.IsPreMounted() {
		internalUtils.Log.Info().Msg("Layout is pre-mounted, leaving fstab alone")
		return nil
	}
	fstabFile := s.path(constants.FstabPath)
	if err := vfs.MkdirAll(s.FS, filepath.Dir(fstabFile), 0o755); err != nil {
		return err
	}
	f, err := s.FS.OpenFile(fstabFile, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, fst := range s.fstabs {
		internalUtils.Log.Debug().Str("what", fst.String()).Msg("Adding line to fstab")
		if _, err := f.WriteString(fmt.Sprintf("%s\n", fst.String())); err != nil {
			return err
		}
	}
	return nil
}

// SelectedBootloader is the variant AddBootloader would install.
func (s *State) SelectedBootloader() (bootloader.Variant, error) {
	return bootloader.Select(s.Options.Bootloader, s.Caps)
}
