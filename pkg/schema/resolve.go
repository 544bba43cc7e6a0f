package schema

import (
	"path/filepath"
	"strings"
)

// ResolveRoot finds the single entity holding the root filesystem.
// Logical volumes take part in the search as well as partitions. Zero or
// several roots are configuration errors.
func (c *DiskLayoutConfiguration) ResolveRoot() (Entity, error) {
	var roots []Entity
	for _, p := range c.Partitions() {
		if c.LvmConfig.IsPhysicalVolume(p.DevPath) {
			continue
		}
		if p.IsRoot() {
			roots = append(roots, p)
		}
	}
	for _, v := range c.Volumes() {
		if v.IsRoot() {
			roots = append(roots, v)
		}
	}

	switch len(roots) {
	case 0:
		return nil, configErr("no root partition or volume in the layout")
	case 1:
		return roots[0], nil
	default:
		names := make([]string, 0, len(roots))
		for _, r := range roots {
			names = append(names, r.String())
		}
		return nil, configErr("more than one root in the layout: %s", strings.Join(names, ", "))
	}
}

// ResolveBoot finds the partition the boot loader and kernels go to.
// A device with a single mounted partition boots from it, otherwise the
// boot flag decides, otherwise whatever is mounted at /boot.
func (c *DiskLayoutConfiguration) ResolveBoot() (*PartitionModification, error) {
	for _, d := range c.DeviceModifications {
		var mounted []*PartitionModification
		for _, p := range d.Partitions {
			if p.Mountpoint != "" {
				mounted = append(mounted, p)
			}
		}
		if len(mounted) == 1 && len(c.DeviceModifications) == 1 && c.LvmConfig == nil {
			return mounted[0], nil
		}
		for _, p := range mounted {
			if p.IsBoot() {
				return p, nil
			}
		}
	}
	for _, p := range c.Partitions() {
		if p.Mountpoint != "" && filepath.Clean(p.Mountpoint) == "/boot" {
			return p, nil
		}
	}
	return nil, configErr("no boot partition in the layout")
}

// ResolveEFI finds the mounted EFI system partition.
func (c *DiskLayoutConfiguration) ResolveEFI() (*PartitionModification, error) {
	for _, p := range c.Partitions() {
		if p.IsEFI() && p.Mountpoint != "" {
			return p, nil
		}
	}
	return nil, configErr("no mounted EFI system partition in the layout")
}
