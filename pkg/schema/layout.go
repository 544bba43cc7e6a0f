package schema

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/kairos-io/diskcore/internal/constants"
	"gopkg.in/yaml.v3"
)

// Load reads a layout file and validates it.
func Load(path string) (*DiskLayoutConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a yaml layout and validates it.
func Parse(data []byte) (*DiskLayoutConfiguration, error) {
	cfg := &DiskLayoutConfiguration{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing layout: %s", constants.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", constants.ErrConfiguration, fmt.Sprintf(format, args...))
}

// Validate checks the layout and resolves the encryption references
// into the partitions and volumes they name. Every problem is reported, not only the first.
func (c *DiskLayoutConfiguration) Validate() error {
	var errs *multierror.Error

	if c.ConfigType == "" {
		c.ConfigType = DefaultLayout
	}
	switch c.ConfigType {
	case DefaultLayout, ManualPartitioning, PreMounted:
	default:
		errs = multierror.Append(errs, configErr("unknown config type %q", c.ConfigType))
	}

	seen := map[string]bool{}
	for _, d := range c.DeviceModifications {
		for _, p := range d.Partitions {
			if p.DevPath == "" {
				errs = multierror.Append(errs, configErr("partition on %s has no device path", d.Device))
				continue
			}
			if seen[p.DevPath] {
				errs = multierror.Append(errs, configErr("partition %s is declared twice", p.DevPath))
			}
			seen[p.DevPath] = true
			if !p.FsType.valid() {
				errs = multierror.Append(errs, configErr("partition %s has unknown filesystem %q", p.DevPath, p.FsType))
			}
			if c.LvmConfig.IsPhysicalVolume(p.DevPath) && (p.Mountpoint != "" || len(p.Subvolumes) > 0) {
				errs = multierror.Append(errs, configErr("partition %s backs a volume group and cannot be mounted", p.DevPath))
			}
			errs = multierror.Append(errs, validateSubvolumes(p)...)
		}
	}

	if c.LvmConfig != nil {
		for _, vg := range c.LvmConfig.VolGroups {
			if vg.Name == "" {
				errs = multierror.Append(errs, configErr("volume group without a name"))
			}
			for _, pv := range vg.PVs {
				if !seen[pv] {
					errs = multierror.Append(errs, configErr("volume group %s uses unknown physical volume %s", vg.Name, pv))
				}
			}
			for _, v := range vg.Volumes {
				v.VGName = vg.Name
				if !v.FsType.valid() {
					errs = multierror.Append(errs, configErr("%s has unknown filesystem %q", v, v.FsType))
				}
				errs = multierror.Append(errs, validateSubvolumes(v)...)
			}
		}
	}

	if _, err := c.ResolveRoot(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := c.resolveEncryption(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}

// validateSubvolumes requires a name and a mountpoint for every subvolume.
func validateSubvolumes(e Entity) []error {
	var errs []error
	for _, sub := range e.SubvolumeList() {
		switch {
		case sub.Name == "":
			errs = append(errs, configErr("%s has a subvolume without a name", e))
		case sub.Mountpoint == "":
			errs = append(errs, configErr("subvolume %s of %s has no mountpoint", sub.Name, e))
		}
	}
	return errs
}

func (c *DiskLayoutConfiguration) resolveEncryption() error {
	enc := c.DiskEncryption
	if enc == nil {
		return nil
	}
	var errs *multierror.Error

	enc.partitions = nil
	enc.volumes = nil

	switch enc.EncryptionType() {
	case NoEncryption:
		if len(enc.PartitionRefs) > 0 || len(enc.VolumeRefs) > 0 {
			errs = multierror.Append(errs, configErr("encrypted entities listed without an encryption type"))
		}
		return errs.ErrorOrNil()
	case Luks, LvmOnLuks:
		if len(enc.VolumeRefs) > 0 {
			errs = multierror.Append(errs, configErr("%s encrypts partitions, not logical volumes", enc.Type))
		}
	case LuksOnLvm:
		if len(enc.PartitionRefs) > 0 {
			errs = multierror.Append(errs, configErr("%s encrypts logical volumes, not partitions", enc.Type))
		}
		if c.LvmConfig == nil {
			errs = multierror.Append(errs, configErr("%s needs a volume group configuration", enc.Type))
		}
	default:
		return configErr("unknown encryption type %q", enc.Type)
	}

	for _, ref := range enc.PartitionRefs {
		p := c.partitionByPath(ref)
		if p == nil {
			errs = multierror.Append(errs, configErr("encrypted partition %s is not part of the layout", ref))
			continue
		}
		if p.MapperName == "" {
			errs = multierror.Append(errs, configErr("encrypted %s has no mapper name", p))
			continue
		}
		enc.partitions = append(enc.partitions, p)
	}

	for _, ref := range enc.VolumeRefs {
		v, err := c.volumeByRef(ref)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if v.MapperName == "" {
			errs = multierror.Append(errs, configErr("encrypted %s has no mapper name", v))
			continue
		}
		enc.volumes = append(enc.volumes, v)
	}

	if enc.Type == LvmOnLuks {
		if c.LvmConfig == nil || len(c.LvmConfig.VolGroups) == 0 {
			errs = multierror.Append(errs, configErr("%s needs a volume group configuration", enc.Type))
		} else {
			for _, vg := range c.LvmConfig.VolGroups {
				for _, pv := range vg.PVs {
					if p := c.partitionByPath(pv); p != nil && !enc.EncryptsPartition(p) {
						errs = multierror.Append(errs, configErr("physical volume %s of %s is not encrypted", pv, vg.Name))
					}
				}
			}
		}
	}

	if len(enc.partitions)+len(enc.volumes) == 0 && errs.ErrorOrNil() == nil {
		errs = multierror.Append(errs, configErr("%s selected but nothing to encrypt", enc.Type))
	}

	return errs.ErrorOrNil()
}

func (c *DiskLayoutConfiguration) partitionByPath(dev string) *PartitionModification {
	for _, p := range c.Partitions() {
		if p.DevPath == dev {
			return p
		}
	}
	return nil
}

func (c *DiskLayoutConfiguration) volumeByRef(ref string) (*LvmVolume, error) {
	vgName, lvName := "", ref
	if i := strings.Index(ref, "/"); i >= 0 {
		vgName, lvName = ref[:i], ref[i+1:]
	}
	var found []*LvmVolume
	for _, v := range c.Volumes() {
		if v.Name == lvName && (vgName == "" || v.VGName == vgName) {
			found = append(found, v)
		}
	}
	switch len(found) {
	case 0:
		return nil, configErr("encrypted volume %s is not part of the layout", ref)
	case 1:
		return found[0], nil
	default:
		return nil, configErr("encrypted volume %s is ambiguous, qualify it with its volume group", ref)
	}
}
