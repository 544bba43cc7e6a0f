package platform

import (
	"github.com/foxboron/go-uefi/efi"
	"github.com/kairos-io/diskcore/internal/constants"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/twpayne/go-vfs/v4"
)

// Capabilities is what the firmware of the running machine offers.
type Capabilities struct {
	UEFI       bool
	SecureBoot bool
}

// Detect looks for the EFI firmware directory on fs. Secure boot state is
// only read from the efivars of a UEFI machine.
func Detect(fs vfs.FS) Capabilities {
	caps := Capabilities{}
	if info, err := fs.Stat(constants.EFIFirmwareDir); err == nil && info.IsDir() {
		caps.UEFI = true
	}
	if caps.UEFI && fs == vfs.OSFS {
		caps.SecureBoot = efi.GetSecureBoot()
	}
	internalUtils.Log.Debug().Bool("uefi", caps.UEFI).Bool("secureboot", caps.SecureBoot).Msg("Platform capabilities")
	return caps
}
