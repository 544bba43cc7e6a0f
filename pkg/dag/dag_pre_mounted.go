package dag

import (
	cnst "github.com/kairos-io/diskcore/internal/constants"
	"github.com/kairos-io/diskcore/pkg/state"
	"github.com/spectrocloud-labs/herd"
)

// RegisterPreMounted registers the dag for a layout the caller already mounted
// under the target. Nothing gets unlocked or mounted; the layout is still
// validated since the boot loader and kernel parameters are derived from it.
func RegisterPreMounted(s *state.State, g *herd.Graph) error {
	c := &chain{}
	if err := s.LogIfErrorAndReturn(c.add(cnst.OpValidateLayout, func(opts ...herd.OpOption) error {
		return s.ValidateLayoutDagStep(g, opts...)
	}), "validate layout"); err != nil {
		return err
	}

	// Marks the layout as mounted, the caller took care of it
	if err := s.LogIfErrorAndReturn(c.add(cnst.OpMountPartitions, func(opts ...herd.OpOption) error {
		return s.MountPartitionsDagStep(g, opts...)
	}), "pre-mounted layout"); err != nil {
		return err
	}

	if err := s.LogIfErrorAndReturn(c.add(cnst.OpGenerateKeyFiles, func(opts ...herd.OpOption) error {
		return s.GenerateKeyFilesDagStep(g, opts...)
	}), "keyfiles"); err != nil {
		return err
	}

	return s.LogIfErrorAndReturn(c.add(cnst.OpAddBootloader, func(opts ...herd.OpOption) error {
		return s.AddBootloaderDagStep(g, opts...)
	}), "bootloader")
}
