package device

import (
	"fmt"
	"path/filepath"

	"github.com/kairos-io/diskcore/internal/constants"
)

// Luks2 is bound to one LUKS container. The mapper device only exists once the
// container was unlocked.
type Luks2 struct {
	Device     string
	MapperName string
	// KeyFile is the path of the keyfile inside the target, if one was generated.
	KeyFile string

	mapperDevice string
}

func NewLuks2(dev, mapper string) *Luks2 {
	return &Luks2{Device: dev, MapperName: mapper}
}

// Unlocked returns a handle for a container that a driver has already opened.
func Unlocked(dev, mapper string) *Luks2 {
	l := NewLuks2(dev, mapper)
	l.mapperDevice = MapperPath(mapper)
	return l
}

// MapperDevice returns the unlocked device node. ok is false while the container is locked.
func (l *Luks2) MapperDevice() (path string, ok bool) {
	if l == nil || l.mapperDevice == "" {
		return "", false
	}
	return l.mapperDevice, true
}

func (l *Luks2) String() string {
	return fmt.Sprintf("%s (%s)", l.Device, l.MapperName)
}

func MapperPath(mapper string) string {
	return filepath.Join("/dev/mapper", mapper)
}

// PVSegment describes where a logical volume lives.
type PVSegment struct {
	PVName string `json:"pv_name"`
	VGName string `json:"vg_name"`
	LVName string `json:"lv_name"`
}

// DiskError is returned for every failure at the device boundary.
type DiskError struct {
	Op     string
	Device string
	Target string
	Err    error
}

func (e *DiskError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Device)
	if e.Target != "" {
		msg += fmt.Sprintf(" on %s", e.Target)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DiskError) Unwrap() error { return e.Err }

func (e *DiskError) Is(target error) bool { return target == constants.ErrDisk }

func diskErr(op, dev, target string, err error) error {
	if err == nil {
		return nil
	}
	return &DiskError{Op: op, Device: dev, Target: target, Err: err}
}
