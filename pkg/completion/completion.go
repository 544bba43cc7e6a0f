package completion

const (
	StepMountLayout = "mount-layout"
	StepKeyFiles    = "keyfiles"
	StepBootloader  = "bootloader"
)

// Flags records which install steps finished. It is passed along the
// orchestration instead of living in a global.
type Flags struct {
	LayoutMounted bool
	KeyFiles      bool
	// Bootloader is the installed variant, empty until one succeeded.
	Bootloader string
}

// Missing lists the steps that did not complete, in install order.
func (f *Flags) Missing() []string {
	var missing []string
	if !f.LayoutMounted {
		missing = append(missing, StepMountLayout)
	}
	if !f.KeyFiles {
		missing = append(missing, StepKeyFiles)
	}
	if f.Bootloader == "" {
		missing = append(missing, StepBootloader)
	}
	return missing
}

func (f *Flags) Complete() bool {
	return len(f.Missing()) == 0
}
