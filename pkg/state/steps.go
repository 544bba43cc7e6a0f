package state

import (
	"context"

	cnst "github.com/kairos-io/diskcore/internal/constants"
	"github.com/kairos-io/diskcore/pkg/topology"
	"github.com/spectrocloud-labs/herd"
)

// ValidateLayoutDagStep adds the step checking the layout, the topology and the
// boot loader choice before any device is touched.
func (s *State) ValidateLayoutDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpValidateLayout, append(opts, herd.WithCallback(
		func(_ context.Context) error {
			return s.LogIfErrorAndReturn(s.Preflight(), "validating layout")
		},
	))...)
}

// PhaseDagStep adds one unlock or import phase of the topology plan.
func (s *State) PhaseDagStep(g *herd.Graph, phase topology.Phase, opts ...herd.OpOption) error {
	return g.Add(phase.Name, append(opts, herd.WithCallback(
		func(_ context.Context) error {
			return s.LogIfErrorAndReturn(s.RunPhase(phase), phase.Name)
		},
	))...)
}

// MountLvmDagStep adds mounting the logical volumes.
func (s *State) MountLvmDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpMountLvm, append(opts, herd.WithCallback(
		func(_ context.Context) error {
			return s.LogIfErrorAndReturn(s.MountLvmVolumes(), "mounting logical volumes")
		},
	))...)
}

// MountPartitionsDagStep adds mounting the partitions.
func (s *State) MountPartitionsDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpMountPartitions, append(opts, herd.WithCallback(
		func(_ context.Context) error {
			return s.LogIfErrorAndReturn(s.MountPartitions(), "mounting partitions")
		},
	))...)
}

// WriteFstabDagStep adds writing the fstab of the mounted layout.
func (s *State) WriteFstabDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpWriteFstab, append(opts, herd.WithCallback(
		func(_ context.Context) error {
			return s.LogIfErrorAndReturn(s.WriteFstab(), "writing fstab")
		},
	))...)
}

// GenerateKeyFilesDagStep adds the keyfile and HSM enrollment step.
func (s *State) GenerateKeyFilesDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpGenerateKeyFiles, append(opts, herd.WithCallback(
		func(_ context.Context) error {
			return s.LogIfErrorAndReturn(s.GenerateKeyFiles(), "generating keyfiles")
		},
	))...)
}

// AddBootloaderDagStep adds the boot loader installation.
func (s *State) AddBootloaderDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpAddBootloader, append(opts, herd.WithCallback(
		func(_ context.Context) error {
			return s.LogIfErrorAndReturn(s.AddBootloader(s.Options.Bootloader, s.Options.UKI), "adding bootloader")
		},
	))...)
}
