package bootloader

import (
	"fmt"
	"strings"

	"github.com/kairos-io/diskcore/internal/constants"
	"github.com/kairos-io/diskcore/pkg/platform"
	"github.com/kairos-io/diskcore/pkg/schema"
)

type Variant string

const (
	SystemdBoot Variant = "systemd-boot"
	Grub        Variant = "grub"
	Limine      Variant = "limine"
	EfiStub     Variant = "efistub"
)

func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "systemd-boot", "systemd", "systemd-bootctl":
		return SystemdBoot, nil
	case "grub", "grub2":
		return Grub, nil
	case "limine":
		return Limine, nil
	case "efistub", "efi-stub":
		return EfiStub, nil
	}
	return "", fmt.Errorf("%w: unknown bootloader %q", constants.ErrConfiguration, s)
}

// Select picks the configured variant, or systemd-boot on UEFI machines and grub elsewhere.
func Select(name string, caps platform.Capabilities) (Variant, error) {
	if strings.TrimSpace(name) != "" {
		return ParseVariant(name)
	}
	if caps.UEFI {
		return SystemdBoot, nil
	}
	return Grub, nil
}

// Request carries the resolved layout pieces a boot loader needs.
type Request struct {
	Boot *schema.PartitionModification
	Root schema.Entity
	// EFI can be nil on BIOS machines.
	EFI *schema.PartitionModification
	UKI bool
	// Params is the kernel command line.
	Params []string
	// Kernels are the installed kernel names, the first one is the default entry.
	Kernels []string
}

func (r Request) validate() error {
	if r.Boot == nil {
		return fmt.Errorf("%w: could not detect the boot partition", constants.ErrConfiguration)
	}
	if r.Root == nil {
		return fmt.Errorf("%w: could not detect the root partition or volume", constants.ErrConfiguration)
	}
	if len(r.Kernels) == 0 {
		return fmt.Errorf("%w: no kernel to boot", constants.ErrConfiguration)
	}
	return nil
}
