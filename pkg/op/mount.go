package op

import (
	"github.com/containerd/containerd/mount"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
)

// NewMount builds the operation mounting dev at target. The target directory is
// created right before mounting.
func NewMount(dev, fsType, target string, options []string) MountOperation {
	m := mount.Mount{
		Type:    fsType,
		Source:  dev,
		Options: options,
	}
	return MountOperation{
		MountOption: m,
		FstabEntry:  *internalUtils.MountToFstab(m),
		Target:      target,
		PrepareCallback: func() error {
			return internalUtils.CreateIfNotExists(target)
		},
	}
}
