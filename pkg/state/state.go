package state

import (
	"fmt"
	"path/filepath"

	"github.com/deniswernert/go-fstab"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/kairos-io/diskcore/pkg/bootloader"
	"github.com/kairos-io/diskcore/pkg/completion"
	"github.com/kairos-io/diskcore/pkg/keys"
	"github.com/kairos-io/diskcore/pkg/kernel"
	"github.com/kairos-io/diskcore/pkg/platform"
	"github.com/kairos-io/diskcore/pkg/schema"
	"github.com/kairos-io/diskcore/pkg/topology"
	"github.com/spectrocloud-labs/herd"
	"github.com/twpayne/go-vfs/v4"
)

// Driver is the device layer the layout is opened and mounted with.
type Driver interface {
	topology.Driver
	Mount(dev, fsType, target string, options []string) error
	SwapOn(dev string) error
}

// Options are the install choices that are not part of the disk layout.
type Options struct {
	Bootloader   string
	UKI          bool
	Zram         bool
	// ByUUID identifies root by filesystem UUID instead of PARTUUID.
	ByUUID       bool
	Kernels      []string
	KernelParams []string
	// RequireSecureBoot refuses unified kernel images without secure boot.
	RequireSecureBoot bool
}

type State struct {
	Config  *schema.DiskLayoutConfiguration
	Target  string // where the layout gets mounted, e.g. /mnt
	Options Options

	Driver Driver
	Prober kernel.Prober
	Crypt  keys.Crypt
	FS     vfs.FS
	Caps   platform.Capabilities
	// Chroot runs commands inside the target.
	Chroot bootloader.Runner
	// Dispatcher is built from the fields above unless set.
	Dispatcher *bootloader.Dispatcher

	Flags completion.Flags

	plan     topology.Plan
	unlocked *topology.UnlockSet
	keys     *keys.Manager
	fstabs   []*fstab.Mount
}

func (s *State) path(p ...string) string {
	return filepath.Join(append([]string{s.Target}, p...)...)
}

// Plan resolves the encryption topology once.
func (s *State) Plan() (topology.Plan, error) {
	if s.plan != nil {
		return s.plan, nil
	}
	p, err := topology.Resolve(s.Config)
	if err != nil {
		return nil, err
	}
	s.plan = p
	return p, nil
}

// Unlocked returns the containers opened so far.
func (s *State) Unlocked() *topology.UnlockSet {
	if s.unlocked == nil {
		s.unlocked = topology.NewUnlockSet()
	}
	return s.unlocked
}

// Fstab returns the entries collected while mounting.
func (s *State) Fstab() schema.FsTabs {
	return s.fstabs
}

// WipeSecrets forgets the passphrase. Safe to call more than once.
func (s *State) WipeSecrets() {
	if s.Config != nil {
		s.Config.DiskEncryption.Wipe()
	}
}

// PostInstallCheck lists the install steps that did not complete.
func (s *State) PostInstallCheck() []string {
	return s.Flags.Missing()
}

// WriteDAG writes the dag.
func (s *State) WriteDAG(g *herd.Graph) (out string) {
	for i, layer := range g.Analyze() {
		out += fmt.Sprintf("%d.\n", i+1)
		for _, op := range layer {
			if op.Error != nil {
				out += fmt.Sprintf(" <%s> (error: %s) (background: %t) (weak: %t) (run: %t)\n", op.Name, op.Error.Error(), op.Background, op.WeakDeps, op.Executed)
			} else {
				out += fmt.Sprintf(" <%s> (background: %t) (weak: %t) (run: %t)\n", op.Name, op.Background, op.WeakDeps, op.Executed)
			}
		}
	}
	return
}

// LogIfError will log if there is an error with the given context as message
// Context can be empty.
func (s *State) LogIfError(e error, msgContext string) {
	if e != nil {
		internalUtils.Log.Err(e).Msg(msgContext)
	}
}

// LogIfErrorAndReturn will log if there is an error with the given context as message
// Context can be empty
// Will also return the error.
func (s *State) LogIfErrorAndReturn(e error, msgContext string) error {
	if e != nil {
		internalUtils.Log.Err(e).Msg(msgContext)
	}
	return e
}

// AddToFstab will try to add an entry to the fstab list
// Will check if the entry exists before adding it to avoid duplicates.
func (s *State) AddToFstab(tmpFstab *fstab.Mount) {
	for _, f := range s.fstabs {
		if f.Spec == tmpFstab.Spec && f.File == tmpFstab.File {
			internalUtils.Log.Debug().Interface("existing", f).Interface("duplicated", tmpFstab).Msg("Duplicated fstab entry found, not adding")
			return
		}
	}
	s.fstabs = append(s.fstabs, tmpFstab)
}
