package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/containerd/containerd/mount"
	"github.com/deniswernert/go-fstab"
	"github.com/kairos-io/diskcore/internal/constants"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/kairos-io/diskcore/pkg/device"
	"github.com/kairos-io/diskcore/pkg/schema"
	"github.com/kairos-io/diskcore/pkg/topology"
)

// mountStep is a single mount or swap activation.
type mountStep struct {
	device string
	// mountpoint as seen by the installed system, empty for swap
	mountpoint string
	fsType     schema.FilesystemType
	options    []string
	swap       bool
}

func (m mountStep) depth() int {
	return internalUtils.PathDepth(m.mountpoint)
}

// MountOrderedLayout opens the layout according to its topology and mounts it
// under the target. Layouts mounted by the caller are left alone.
func (s *State) MountOrderedLayout() error {
	if s.Config.IsPreMounted() {
		return s.MountPartitions()
	}

	plan, err := s.Plan()
	if err != nil {
		return err
	}
	for _, phase := range plan.Phases() {
		if err := s.RunPhase(phase); err != nil {
			return err
		}
	}
	if err := s.MountLvmVolumes(); err != nil {
		return err
	}
	return s.MountPartitions()
}

// RunPhase runs one unlock or import phase of the plan.
func (s *State) RunPhase(phase topology.Phase) error {
	internalUtils.Log.Info().Str("phase", phase.Name).Msg("Running")
	var passphrase []byte
	if s.Config.DiskEncryption != nil {
		passphrase = s.Config.DiskEncryption.Passphrase
	}
	return phase.Run(s.Driver, passphrase, s.Unlocked())
}

// MountLvmVolumes mounts the logical volumes group by group, the group holding root first.
func (s *State) MountLvmVolumes() error {
	if s.Config.LvmConfig == nil || s.Config.IsPreMounted() {
		return nil
	}
	groups := make([]*schema.LvmVolumeGroup, len(s.Config.LvmConfig.VolGroups))
	copy(groups, s.Config.LvmConfig.VolGroups)
	sort.SliceStable(groups, func(i, j int) bool {
		return groupHoldsRoot(groups[i]) && !groupHoldsRoot(groups[j])
	})

	for _, vg := range groups {
		var steps []mountStep
		for _, v := range vg.Volumes {
			dev, err := s.volumeDevice(v)
			if err != nil {
				return err
			}
			steps = append(steps, entitySteps(v, dev, v.IsSwap())...)
		}
		if err := s.runSteps(steps); err != nil {
			return err
		}
	}
	return nil
}

// MountPartitions mounts every partition that does not back a volume group,
// starting with the device holding root.
func (s *State) MountPartitions() error {
	if s.Config.IsPreMounted() {
		internalUtils.Log.Info().Str("target", s.Target).Msg("Layout is pre-mounted, skipping")
		s.Flags.LayoutMounted = true
		return nil
	}
	devices := make([]*schema.DeviceModification, len(s.Config.DeviceModifications))
	copy(devices, s.Config.DeviceModifications)
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].RootPartition() != nil && devices[j].RootPartition() == nil
	})

	for _, d := range devices {
		var steps []mountStep
		for _, p := range d.Partitions {
			if s.Config.LvmConfig.IsPhysicalVolume(p.DevPath) {
				continue
			}
			dev, err := s.partitionDevice(p)
			if err != nil {
				return err
			}
			steps = append(steps, entitySteps(p, dev, p.IsSwap())...)
		}
		if err := s.runSteps(steps); err != nil {
			return err
		}
	}
	s.Flags.LayoutMounted = true
	return nil
}

func groupHoldsRoot(vg *schema.LvmVolumeGroup) bool {
	for _, v := range vg.Volumes {
		if v.IsRoot() {
			return true
		}
	}
	return false
}

// partitionDevice is the mapper device for an unlocked partition, the partition itself otherwise.
func (s *State) partitionDevice(p *schema.PartitionModification) (string, error) {
	if handle, ok := s.Unlocked().Partitions[p]; ok {
		return mapperDevice(handle)
	}
	if s.Config.EncryptionType() == schema.Luks && s.Config.DiskEncryption.EncryptsPartition(p) {
		return "", fmt.Errorf("%w: %s was not unlocked", constants.ErrNoUnlockedDevice, p)
	}
	return p.DevPath, nil
}

func (s *State) volumeDevice(v *schema.LvmVolume) (string, error) {
	if handle, ok := s.Unlocked().Volumes[v]; ok {
		return mapperDevice(handle)
	}
	if s.Config.EncryptionType() == schema.LuksOnLvm && s.Config.DiskEncryption.EncryptsVolume(v) {
		return "", fmt.Errorf("%w: %s was not unlocked", constants.ErrNoUnlockedDevice, v)
	}
	return v.DevicePath(), nil
}

func mapperDevice(handle *device.Luks2) (string, error) {
	dev, ok := handle.MapperDevice()
	if !ok {
		return "", fmt.Errorf("%w: %s", constants.ErrNoUnlockedDevice, handle)
	}
	return dev, nil
}

// entitySteps expands an entity into its mounts. Filesystems keeping their
// mountpoints in subvolumes get one mount per subvolume. Entities with nothing
// to mount, like an unused physical volume, expand to nothing.
func entitySteps(e schema.Entity, dev string, swap bool) []mountStep {
	switch {
	case e.MountTarget() != "":
		return []mountStep{{device: dev, mountpoint: e.MountTarget(), fsType: e.Filesystem(), options: e.MountOptionList()}}
	case e.Filesystem().StoresMountpointsInSubvolumes() && len(e.SubvolumeList()) > 0:
		var steps []mountStep
		for _, sub := range e.SubvolumeList() {
			if sub.Mountpoint == "" {
				continue
			}
			opts := append(append([]string{}, e.MountOptionList()...), "subvol="+sub.Name)
			steps = append(steps, mountStep{device: dev, mountpoint: sub.Mountpoint, fsType: e.Filesystem(), options: opts})
		}
		return steps
	case swap:
		return []mountStep{{device: dev, fsType: schema.LinuxSwap, swap: true}}
	}
	internalUtils.Log.Debug().Str("what", e.String()).Msg("Nothing to mount")
	return nil
}

// sortSteps orders mounts by mountpoint depth so parents go first. Ties keep configuration order.
func sortSteps(steps []mountStep) []mountStep {
	sorted := make([]mountStep, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].depth() < sorted[j].depth()
	})
	return sorted
}

func (s *State) runSteps(steps []mountStep) error {
	for _, step := range sortSteps(steps) {
		if step.swap {
			internalUtils.Log.Info().Str("what", step.device).Msg("Activating swap")
			if err := s.Driver.SwapOn(step.device); err != nil {
				return asDiskErr("swapon", step.device, "", err)
			}
			s.AddToFstab(&fstab.Mount{Spec: step.device, File: "none", VfsType: "swap", MntOps: map[string]string{"defaults": ""}})
			continue
		}

		target := s.path(strings.TrimPrefix(filepath.Clean("/"+step.mountpoint), "/"))
		internalUtils.Log.Info().Str("what", step.device).Str("where", target).Strs("options", step.options).Msg("Mounting")
		if err := s.Driver.Mount(step.device, step.fsType.MountType(), target, step.options); err != nil {
			return asDiskErr("mount", step.device, target, err)
		}
		s.AddToFstab(s.fstabEntry(step, target))
	}
	return nil
}

func (s *State) fstabEntry(step mountStep, target string) *fstab.Mount {
	spec := step.device
	if s.Prober != nil {
		if id, err := s.Prober.FilesystemUUID(step.device); err == nil {
			spec = "UUID=" + id
		} else {
			internalUtils.Log.Debug().Err(err).Str("what", step.device).Msg("No filesystem UUID, using the device path in fstab")
		}
	}
	entry := internalUtils.MountToFstab(mount.Mount{Type: step.fsType.MountType(), Source: spec, Options: step.options})
	entry.File = internalUtils.CleanTargetForFstab(s.Target, target)
	if len(entry.MntOps) == 0 {
		entry.MntOps["defaults"] = ""
	}
	switch {
	case step.fsType == schema.Btrfs:
		entry.PassNo = 0
	case entry.File == "/":
		entry.PassNo = 1
	default:
		entry.PassNo = 2
	}
	return entry
}

func asDiskErr(op, dev, target string, err error) error {
	var diskErr *device.DiskError
	if errors.As(err, &diskErr) {
		return err
	}
	return &device.DiskError{Op: op, Device: dev, Target: target, Err: err}
}
