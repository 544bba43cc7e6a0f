package schema

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/deniswernert/go-fstab"
)

type FsTabs []*fstab.Mount

type FilesystemType string

const (
	Btrfs     FilesystemType = "btrfs"
	Ext2      FilesystemType = "ext2"
	Ext3      FilesystemType = "ext3"
	Ext4      FilesystemType = "ext4"
	F2fs      FilesystemType = "f2fs"
	Fat12     FilesystemType = "fat12"
	Fat16     FilesystemType = "fat16"
	Fat32     FilesystemType = "fat32"
	Ntfs      FilesystemType = "ntfs"
	Xfs       FilesystemType = "xfs"
	LinuxSwap FilesystemType = "linux-swap"
)

// MountType is the name the kernel knows the filesystem by.
func (f FilesystemType) MountType() string {
	switch f {
	case Fat12, Fat16, Fat32:
		return "vfat"
	case Ntfs:
		return "ntfs3"
	case LinuxSwap:
		return "swap"
	default:
		return string(f)
	}
}

// StoresMountpointsInSubvolumes reports whether mountpoints live in the
// filesystem subvolumes instead of at the device level.
func (f FilesystemType) StoresMountpointsInSubvolumes() bool {
	return f == Btrfs
}

func (f FilesystemType) valid() bool {
	switch f {
	case Btrfs, Ext2, Ext3, Ext4, F2fs, Fat12, Fat16, Fat32, Ntfs, Xfs, LinuxSwap:
		return true
	}
	return false
}

type PartitionFlag string

const (
	FlagBoot PartitionFlag = "boot"
	FlagESP  PartitionFlag = "esp"
	FlagSwap PartitionFlag = "swap"
)

type SubvolumeModification struct {
	Name       string `yaml:"name"`
	Mountpoint string `yaml:"mountpoint"`
}

func (s SubvolumeModification) IsRoot() bool {
	return filepath.Clean(s.Mountpoint) == "/"
}

// RelativeMountpoint is the mountpoint without the leading slash, ready to be joined to the target.
func (s SubvolumeModification) RelativeMountpoint() string {
	return relative(s.Mountpoint)
}

// Entity is a mountable piece of the layout: a partition or a logical volume.
type Entity interface {
	fmt.Stringer
	// DevicePath is the raw block device, before any unlock.
	DevicePath() string
	MountTarget() string
	Filesystem() FilesystemType
	SubvolumeList() []SubvolumeModification
	Mapper() string
	MountOptionList() []string
	IsRoot() bool
}

var (
	_ Entity = (*PartitionModification)(nil)
	_ Entity = (*LvmVolume)(nil)
)

type PartitionModification struct {
	DevPath      string                  `yaml:"dev_path"`
	FsType       FilesystemType          `yaml:"fs_type"`
	Mountpoint   string                  `yaml:"mountpoint,omitempty"`
	MountOptions []string                `yaml:"mount_options,omitempty"`
	MapperName   string                  `yaml:"mapper_name,omitempty"`
	PartUUID     string                  `yaml:"partuuid,omitempty"`
	UUID         string                  `yaml:"uuid,omitempty"`
	Flags        []PartitionFlag         `yaml:"flags,omitempty"`
	Subvolumes   []SubvolumeModification `yaml:"subvolumes,omitempty"`
}

func (p *PartitionModification) String() string {
	return fmt.Sprintf("partition %s", p.DevPath)
}

func (p *PartitionModification) DevicePath() string                    { return p.DevPath }
func (p *PartitionModification) MountTarget() string                   { return p.Mountpoint }
func (p *PartitionModification) Filesystem() FilesystemType            { return p.FsType }
func (p *PartitionModification) SubvolumeList() []SubvolumeModification { return p.Subvolumes }
func (p *PartitionModification) Mapper() string                        { return p.MapperName }
func (p *PartitionModification) MountOptionList() []string             { return p.MountOptions }

func (p *PartitionModification) HasFlag(flag PartitionFlag) bool {
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

func (p *PartitionModification) IsRoot() bool {
	return isRoot(p.Mountpoint, p.Subvolumes)
}

func (p *PartitionModification) IsBoot() bool {
	return p.HasFlag(FlagBoot)
}

func (p *PartitionModification) IsEFI() bool {
	return p.HasFlag(FlagESP)
}

func (p *PartitionModification) IsSwap() bool {
	return p.FsType == LinuxSwap || p.HasFlag(FlagSwap)
}

func (p *PartitionModification) RelativeMountpoint() string {
	return relative(p.Mountpoint)
}

type DeviceModification struct {
	Device     string                   `yaml:"device"`
	Partitions []*PartitionModification `yaml:"partitions"`
}

// RootPartition returns the partition holding root on this device, if any.
func (d *DeviceModification) RootPartition() *PartitionModification {
	for _, p := range d.Partitions {
		if p.IsRoot() {
			return p
		}
	}
	return nil
}

type LvmVolume struct {
	Name         string                  `yaml:"name"`
	FsType       FilesystemType          `yaml:"fs_type"`
	Mountpoint   string                  `yaml:"mountpoint,omitempty"`
	MountOptions []string                `yaml:"mount_options,omitempty"`
	MapperName   string                  `yaml:"mapper_name,omitempty"`
	Subvolumes   []SubvolumeModification `yaml:"subvolumes,omitempty"`
	// VGName is filled from the owning group when the configuration is validated.
	VGName string `yaml:"-"`
}

func (v *LvmVolume) String() string {
	return fmt.Sprintf("volume %s/%s", v.VGName, v.Name)
}

// DevicePath is the LVM device node of the volume.
func (v *LvmVolume) DevicePath() string {
	return fmt.Sprintf("/dev/%s/%s", v.VGName, v.Name)
}

// MapperPath is where the unlocked container shows up when the volume is encrypted.
func (v *LvmVolume) MapperPath() string {
	if v.MapperName == "" {
		return ""
	}
	return filepath.Join("/dev/mapper", v.MapperName)
}

func (v *LvmVolume) MountTarget() string                   { return v.Mountpoint }
func (v *LvmVolume) Filesystem() FilesystemType            { return v.FsType }
func (v *LvmVolume) SubvolumeList() []SubvolumeModification { return v.Subvolumes }
func (v *LvmVolume) Mapper() string                        { return v.MapperName }
func (v *LvmVolume) MountOptionList() []string             { return v.MountOptions }

func (v *LvmVolume) IsRoot() bool {
	return isRoot(v.Mountpoint, v.Subvolumes)
}

func (v *LvmVolume) IsSwap() bool {
	return v.FsType == LinuxSwap
}

type LvmVolumeGroup struct {
	Name string `yaml:"name"`
	// PVs are the device paths of the partitions backing the group.
	PVs     []string     `yaml:"pvs"`
	Volumes []*LvmVolume `yaml:"volumes"`
}

type LvmConfiguration struct {
	VolGroups []*LvmVolumeGroup `yaml:"vol_groups"`
}

// IsPhysicalVolume reports whether dev backs any volume group.
func (l *LvmConfiguration) IsPhysicalVolume(dev string) bool {
	if l == nil {
		return false
	}
	for _, vg := range l.VolGroups {
		for _, pv := range vg.PVs {
			if pv == dev {
				return true
			}
		}
	}
	return false
}

type EncryptionType string

const (
	NoEncryption EncryptionType = "no_encryption"
	Luks         EncryptionType = "luks"
	LvmOnLuks    EncryptionType = "lvm_on_luks"
	LuksOnLvm    EncryptionType = "luks_on_lvm"
)

type Fido2Device struct {
	Path         string `yaml:"path"`
	Manufacturer string `yaml:"manufacturer,omitempty"`
	Product      string `yaml:"product,omitempty"`
}

type DiskEncryption struct {
	Type EncryptionType `yaml:"encryption_type"`
	// PartitionRefs and VolumeRefs name the encrypted entities: partition
	// device paths and "vg/lv" (or bare lv) names.
	PartitionRefs []string     `yaml:"partitions,omitempty"`
	VolumeRefs    []string     `yaml:"lvm_volumes,omitempty"`
	HSMDevice     *Fido2Device `yaml:"hsm_device,omitempty"`
	// Passphrase is never read from or written to the layout file.
	Passphrase []byte `yaml:"-"`

	partitions []*PartitionModification
	volumes    []*LvmVolume
}

func (d *DiskEncryption) EncryptionType() EncryptionType {
	if d == nil || d.Type == "" {
		return NoEncryption
	}
	return d.Type
}

// Partitions returns the encrypted partitions resolved by Validate.
func (d *DiskEncryption) Partitions() []*PartitionModification {
	if d == nil {
		return nil
	}
	return d.partitions
}

// Volumes returns the encrypted logical volumes resolved by Validate.
func (d *DiskEncryption) Volumes() []*LvmVolume {
	if d == nil {
		return nil
	}
	return d.volumes
}

func (d *DiskEncryption) EncryptsPartition(p *PartitionModification) bool {
	for _, e := range d.Partitions() {
		if e == p {
			return true
		}
	}
	return false
}

func (d *DiskEncryption) EncryptsVolume(v *LvmVolume) bool {
	for _, e := range d.Volumes() {
		if e == v {
			return true
		}
	}
	return false
}

// Encrypts reports whether the entity is one of the containers of the current topology.
func (d *DiskEncryption) Encrypts(e Entity) bool {
	switch t := e.(type) {
	case *PartitionModification:
		return d.EncryptsPartition(t)
	case *LvmVolume:
		return d.EncryptsVolume(t)
	}
	return false
}

func (d *DiskEncryption) HasHSM() bool {
	return d != nil && d.HSMDevice != nil && d.HSMDevice.Path != ""
}

// Wipe zeroes the passphrase.
func (d *DiskEncryption) Wipe() {
	if d == nil {
		return
	}
	for i := range d.Passphrase {
		d.Passphrase[i] = 0
	}
	d.Passphrase = nil
}

type SnapshotType string

const (
	Snapper   SnapshotType = "snapper"
	Timeshift SnapshotType = "timeshift"
)

type SnapshotConfig struct {
	Type SnapshotType `yaml:"type"`
}

type BtrfsOptions struct {
	SnapshotConfig *SnapshotConfig `yaml:"snapshot_config,omitempty"`
}

type ConfigType string

const (
	DefaultLayout      ConfigType = "default_layout"
	ManualPartitioning ConfigType = "manual_partitioning"
	PreMounted         ConfigType = "pre_mounted_config"
)

type DiskLayoutConfiguration struct {
	ConfigType          ConfigType            `yaml:"config_type"`
	Mountpoint          string                `yaml:"mountpoint,omitempty"`
	DeviceModifications []*DeviceModification `yaml:"device_modifications"`
	LvmConfig           *LvmConfiguration     `yaml:"lvm_config,omitempty"`
	DiskEncryption      *DiskEncryption       `yaml:"disk_encryption,omitempty"`
	BtrfsOptions        *BtrfsOptions         `yaml:"btrfs_options,omitempty"`
}

// IsPreMounted reports whether the caller already mounted the layout under the target.
func (c *DiskLayoutConfiguration) IsPreMounted() bool {
	return c.ConfigType == PreMounted
}

func (c *DiskLayoutConfiguration) EncryptionType() EncryptionType {
	return c.DiskEncryption.EncryptionType()
}

// Partitions returns every partition of every device in configuration order.
func (c *DiskLayoutConfiguration) Partitions() []*PartitionModification {
	var parts []*PartitionModification
	for _, d := range c.DeviceModifications {
		parts = append(parts, d.Partitions...)
	}
	return parts
}

// Volumes returns every logical volume of every group in configuration order.
func (c *DiskLayoutConfiguration) Volumes() []*LvmVolume {
	if c.LvmConfig == nil {
		return nil
	}
	var vols []*LvmVolume
	for _, vg := range c.LvmConfig.VolGroups {
		vols = append(vols, vg.Volumes...)
	}
	return vols
}

func isRoot(mountpoint string, subvolumes []SubvolumeModification) bool {
	if mountpoint != "" && filepath.Clean(mountpoint) == "/" {
		return true
	}
	for _, s := range subvolumes {
		if s.IsRoot() {
			return true
		}
	}
	return false
}

func relative(mountpoint string) string {
	if mountpoint == "" {
		return ""
	}
	return strings.TrimPrefix(filepath.Clean("/"+mountpoint), "/")
}
