package topology

import (
	"fmt"

	"github.com/kairos-io/diskcore/internal/constants"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/kairos-io/diskcore/pkg/device"
	"github.com/kairos-io/diskcore/pkg/schema"
)

// Driver is the part of the device layer needed to open a layout.
type Driver interface {
	Unlock(dev, mapper string, passphrase []byte) (*device.Luks2, error)
	ImportVolumeGroup(vg string) error
	ActivateVolume(vg, lv string) error
}

// UnlockSet holds the containers opened before mounting.
type UnlockSet struct {
	Partitions map[*schema.PartitionModification]*device.Luks2
	Volumes    map[*schema.LvmVolume]*device.Luks2
}

func NewUnlockSet() *UnlockSet {
	return &UnlockSet{
		Partitions: map[*schema.PartitionModification]*device.Luks2{},
		Volumes:    map[*schema.LvmVolume]*device.Luks2{},
	}
}

// Phase is one named step of a plan.
type Phase struct {
	Name string
	Run  func(d Driver, passphrase []byte, set *UnlockSet) error
}

// Plan is one of NoEncryption, Luks, LvmOnLuks or LuksOnLvm.
type Plan interface {
	Type() schema.EncryptionType
	// Phases run in order before anything gets mounted.
	Phases() []Phase
	isPlan()
}

type NoEncryption struct{}

type Luks struct {
	Partitions []*schema.PartitionModification
}

// LvmOnLuks unlocks the physical volumes, then brings up the groups on top of them.
type LvmOnLuks struct {
	Partitions []*schema.PartitionModification
	Groups     []*schema.LvmVolumeGroup
}

// LuksOnLvm brings up the groups on raw partitions, then unlocks volumes inside them.
type LuksOnLvm struct {
	Groups  []*schema.LvmVolumeGroup
	Volumes []*schema.LvmVolume
}

func (NoEncryption) isPlan() {}
func (Luks) isPlan()         {}
func (LvmOnLuks) isPlan()    {}
func (LuksOnLvm) isPlan()    {}

func (NoEncryption) Type() schema.EncryptionType { return schema.NoEncryption }
func (Luks) Type() schema.EncryptionType         { return schema.Luks }
func (LvmOnLuks) Type() schema.EncryptionType    { return schema.LvmOnLuks }
func (LuksOnLvm) Type() schema.EncryptionType    { return schema.LuksOnLvm }

func (NoEncryption) Phases() []Phase { return nil }

func (p Luks) Phases() []Phase {
	return []Phase{unlockPartitions(p.Partitions)}
}

func (p LvmOnLuks) Phases() []Phase {
	return []Phase{unlockPartitions(p.Partitions), importGroups(p.Groups)}
}

func (p LuksOnLvm) Phases() []Phase {
	return []Phase{importGroups(p.Groups), unlockVolumes(p.Volumes)}
}

// Resolve classifies the layout. The configuration must have been validated.
func Resolve(cfg *schema.DiskLayoutConfiguration) (Plan, error) {
	enc := cfg.DiskEncryption
	var groups []*schema.LvmVolumeGroup
	if cfg.LvmConfig != nil {
		groups = cfg.LvmConfig.VolGroups
	}

	for _, p := range enc.Partitions() {
		if p.MapperName == "" || p.DevPath == "" {
			return nil, fmt.Errorf("%w: encrypted %s needs both a device path and a mapper name", constants.ErrConfiguration, p)
		}
	}
	for _, v := range enc.Volumes() {
		if v.MapperName == "" || v.VGName == "" {
			return nil, fmt.Errorf("%w: encrypted %s needs both a device path and a mapper name", constants.ErrConfiguration, v)
		}
	}

	switch cfg.EncryptionType() {
	case schema.NoEncryption:
		return NoEncryption{}, nil
	case schema.Luks:
		return Luks{Partitions: enc.Partitions()}, nil
	case schema.LvmOnLuks:
		if len(groups) == 0 {
			return nil, fmt.Errorf("%w: %s without volume groups", constants.ErrConfiguration, schema.LvmOnLuks)
		}
		for _, vg := range groups {
			for _, pv := range vg.PVs {
				if !encryptsDev(enc.Partitions(), pv) {
					return nil, fmt.Errorf("%w: physical volume %s of %s is not encrypted", constants.ErrConfiguration, pv, vg.Name)
				}
			}
		}
		return LvmOnLuks{Partitions: enc.Partitions(), Groups: groups}, nil
	case schema.LuksOnLvm:
		if len(enc.Partitions()) > 0 {
			return nil, fmt.Errorf("%w: %s only encrypts logical volumes", constants.ErrConfiguration, schema.LuksOnLvm)
		}
		return LuksOnLvm{Groups: groups, Volumes: enc.Volumes()}, nil
	}
	return nil, fmt.Errorf("%w: unknown encryption type %q", constants.ErrConfiguration, cfg.EncryptionType())
}

// Execute runs every phase of the plan in order and returns the opened containers.
func Execute(p Plan, d Driver, passphrase []byte) (*UnlockSet, error) {
	set := NewUnlockSet()
	for _, phase := range p.Phases() {
		if err := phase.Run(d, passphrase, set); err != nil {
			return set, err
		}
	}
	return set, nil
}

func encryptsDev(parts []*schema.PartitionModification, dev string) bool {
	for _, p := range parts {
		if p.DevPath == dev {
			return true
		}
	}
	return false
}

func unlockPartitions(parts []*schema.PartitionModification) Phase {
	return Phase{
		Name: constants.OpUnlockLuks,
		Run: func(d Driver, passphrase []byte, set *UnlockSet) error {
			for _, p := range parts {
				internalUtils.Log.Info().Str("what", p.DevPath).Str("mapper", p.MapperName).Msg("Unlocking partition")
				handle, err := d.Unlock(p.DevPath, p.MapperName, passphrase)
				if err != nil {
					return err
				}
				set.Partitions[p] = handle
			}
			return nil
		},
	}
}

func unlockVolumes(vols []*schema.LvmVolume) Phase {
	return Phase{
		Name: constants.OpUnlockLuksOnLvm,
		Run: func(d Driver, passphrase []byte, set *UnlockSet) error {
			for _, v := range vols {
				internalUtils.Log.Info().Str("what", v.DevicePath()).Str("mapper", v.MapperName).Msg("Unlocking volume")
				handle, err := d.Unlock(v.DevicePath(), v.MapperName, passphrase)
				if err != nil {
					return err
				}
				set.Volumes[v] = handle
			}
			return nil
		},
	}
}

func importGroups(groups []*schema.LvmVolumeGroup) Phase {
	return Phase{
		Name: constants.OpImportLvm,
		Run: func(d Driver, _ []byte, _ *UnlockSet) error {
			for _, vg := range groups {
				internalUtils.Log.Info().Str("vg", vg.Name).Msg("Importing volume group")
				if err := d.ImportVolumeGroup(vg.Name); err != nil {
					return err
				}
				for _, v := range vg.Volumes {
					if err := d.ActivateVolume(vg.Name, v.Name); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
