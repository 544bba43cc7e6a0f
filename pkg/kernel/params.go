package kernel

import (
	"fmt"

	"github.com/kairos-io/diskcore/internal/constants"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/kairos-io/diskcore/pkg/device"
	"github.com/kairos-io/diskcore/pkg/schema"
)

const zswapOff = "zswap.enabled=0"

// Fido2Options lets systemd-cryptsetup unlock root with a FIDO2 token.
const Fido2Options = "rd.luks.options=fido2-device=auto,password-echo=no"

// Prober looks up the identifiers the initramfs finds devices by.
type Prober interface {
	PartUUID(dev string) (string, error)
	FilesystemUUID(dev string) (string, error)
	LuksUUIDFromMapper(mapperDev string) (string, error)
	PhysicalVolumeSegment(vg, lv string) (device.PVSegment, error)
}

// Builder derives the kernel command line that finds and unlocks root.
type Builder struct {
	Prober Prober
	// ByUUID identifies plain and passphrase-unlocked root partitions by
	// filesystem UUID instead of PARTUUID.
	ByUUID bool
	// Extra parameters go last, in order.
	Extra []string
}

// Build returns one parameter per element. Root identification always comes
// first since the initramfs takes the first root= it finds.
func (b Builder) Build(root schema.Entity, enc *schema.DiskEncryption, zram bool) ([]string, error) {
	var params []string
	var err error

	switch r := root.(type) {
	case *schema.LvmVolume:
		params, err = b.lvmParams(r, enc)
	case *schema.PartitionModification:
		params, err = b.partitionParams(r, enc)
	default:
		err = fmt.Errorf("%w: unsupported root %v", constants.ErrConfiguration, root)
	}
	if err != nil {
		return nil, err
	}

	// zram and zswap must not run at the same time
	if zram {
		params = append(params, zswapOff)
	}

	for _, sub := range root.SubvolumeList() {
		if sub.IsRoot() {
			params = append(params, fmt.Sprintf("rootflags=subvol=%s", sub.Name))
			break
		}
	}

	params = append(params, "rw", fmt.Sprintf("rootfstype=%s", root.Filesystem().MountType()))

	for _, extra := range b.Extra {
		// zswap is switched off exactly once
		if zram && extra == zswapOff {
			continue
		}
		params = append(params, extra)
	}

	internalUtils.Log.Debug().Strs("params", params).Msg("Kernel parameters")
	return params, nil
}

func (b Builder) lvmParams(vol *schema.LvmVolume, enc *schema.DiskEncryption) ([]string, error) {
	switch enc.EncryptionType() {
	case schema.LvmOnLuks:
		if vol.VGName == "" {
			return nil, fmt.Errorf("%w: no volume group for %s", constants.ErrConfiguration, vol.Name)
		}
		seg, err := b.Prober.PhysicalVolumeSegment(vol.VGName, vol.Name)
		if err != nil {
			return nil, err
		}
		id, err := b.Prober.LuksUUIDFromMapper(seg.PVName)
		if err != nil {
			return nil, err
		}
		if enc.HasHSM() {
			return []string{fmt.Sprintf("rd.luks.name=%s=%s", id, constants.CryptLvmMapper), "root=" + vol.DevicePath()}, nil
		}
		return []string{fmt.Sprintf("cryptdevice=UUID=%s:%s", id, constants.CryptLvmMapper), "root=" + vol.DevicePath()}, nil
	case schema.LuksOnLvm:
		if !enc.EncryptsVolume(vol) {
			return []string{"root=" + vol.DevicePath()}, nil
		}
		if vol.MapperName == "" {
			return nil, fmt.Errorf("%w: %s has no mapper name", constants.ErrConfiguration, vol)
		}
		id, err := b.Prober.LuksUUIDFromMapper(vol.MapperPath())
		if err != nil {
			return nil, err
		}
		rootDev := "root=" + device.MapperPath(constants.RootMapper)
		if enc.HasHSM() {
			return []string{fmt.Sprintf("rd.luks.name=%s=%s", id, constants.RootMapper), rootDev}, nil
		}
		return []string{fmt.Sprintf("cryptdevice=UUID=%s:%s", id, constants.RootMapper), rootDev}, nil
	default:
		return []string{"root=" + vol.DevicePath()}, nil
	}
}

func (b Builder) partitionParams(part *schema.PartitionModification, enc *schema.DiskEncryption) ([]string, error) {
	if enc.EncryptsPartition(part) {
		var params []string
		switch {
		case enc.HasHSM():
			// name based unlock needs the LUKS header UUID, PARTUUID does not work there
			id, err := b.uuid(part)
			if err != nil {
				return nil, err
			}
			params = append(params, fmt.Sprintf("rd.luks.name=%s=%s", id, constants.RootMapper), Fido2Options)
		case !b.ByUUID:
			id, err := b.partUUID(part)
			if err != nil {
				return nil, err
			}
			params = append(params, fmt.Sprintf("cryptdevice=PARTUUID=%s:%s", id, constants.RootMapper))
		default:
			id, err := b.uuid(part)
			if err != nil {
				return nil, err
			}
			params = append(params, fmt.Sprintf("cryptdevice=UUID=%s:%s", id, constants.RootMapper))
		}
		return append(params, "root="+device.MapperPath(constants.RootMapper)), nil
	}

	if !b.ByUUID {
		id, err := b.partUUID(part)
		if err != nil {
			return nil, err
		}
		return []string{"root=PARTUUID=" + id}, nil
	}
	id, err := b.uuid(part)
	if err != nil {
		return nil, err
	}
	return []string{"root=UUID=" + id}, nil
}

func (b Builder) partUUID(part *schema.PartitionModification) (string, error) {
	if part.PartUUID != "" {
		return part.PartUUID, nil
	}
	return b.Prober.PartUUID(part.DevPath)
}

func (b Builder) uuid(part *schema.PartitionModification) (string, error) {
	if part.UUID != "" {
		return part.UUID, nil
	}
	return b.Prober.FilesystemUUID(part.DevPath)
}
