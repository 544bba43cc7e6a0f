package dag

import (
	cnst "github.com/kairos-io/diskcore/internal/constants"
	"github.com/kairos-io/diskcore/pkg/state"
	"github.com/spectrocloud-labs/herd"
)

// chain makes every registered op depend on the previous one, so each layer of
// the graph holds a single op and nothing touching devices runs concurrently.
// Every op is fatal: the first failure stops the run and Run returns it.
type chain struct {
	last string
}

func (c *chain) deps() []herd.OpOption {
	if c.last == "" {
		return []herd.OpOption{herd.FatalOp}
	}
	return []herd.OpOption{herd.FatalOp, herd.WithDeps(c.last)}
}

func (c *chain) add(name string, register func(opts ...herd.OpOption) error) error {
	err := register(c.deps()...)
	if err == nil {
		c.last = name
	}
	return err
}

// RegisterInstall registers the dag for a fresh layout: validate, open the
// containers in the order the topology dictates, mount, write fstab, generate
// key material and install the boot loader.
// A pre-mounted layout registers RegisterPreMounted instead.
func RegisterInstall(s *state.State, g *herd.Graph) error {
	if s.Config.IsPreMounted() {
		return RegisterPreMounted(s, g)
	}

	c := &chain{}
	if err := registerMount(s, g, c); err != nil {
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

// registerMount registers validation, the topology phases, the mounts and the fstab.
func registerMount(s *state.State, g *herd.Graph, c *chain) error {
	if err := s.LogIfErrorAndReturn(c.add(cnst.OpValidateLayout, func(opts ...herd.OpOption) error {
		return s.ValidateLayoutDagStep(g, opts...)
	}), "validate layout"); err != nil {
		return err
	}

	plan, err := s.Plan()
	if err != nil {
		return s.LogIfErrorAndReturn(err, "resolving topology")
	}
	for _, phase := range plan.Phases() {
		phase := phase
		if err := s.LogIfErrorAndReturn(c.add(phase.Name, func(opts ...herd.OpOption) error {
			return s.PhaseDagStep(g, phase, opts...)
		}), phase.Name); err != nil {
			return err
		}
	}

	if err := s.LogIfErrorAndReturn(c.add(cnst.OpMountLvm, func(opts ...herd.OpOption) error {
		return s.MountLvmDagStep(g, opts...)
	}), "mount lvm"); err != nil {
		return err
	}

	if err := s.LogIfErrorAndReturn(c.add(cnst.OpMountPartitions, func(opts ...herd.OpOption) error {
		return s.MountPartitionsDagStep(g, opts...)
	}), "mount partitions"); err != nil {
		return err
	}

	return s.LogIfErrorAndReturn(c.add(cnst.OpWriteFstab, func(opts ...herd.OpOption) error {
		return s.WriteFstabDagStep(g, opts...)
	}), "write fstab")
}
