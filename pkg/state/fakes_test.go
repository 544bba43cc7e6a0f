package state_test

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kairos-io/diskcore/pkg/device"
	"github.com/kairos-io/diskcore/pkg/schema"
)

// fakeDriver records every device call in order.
type fakeDriver struct {
	ops       []string
	failMount string
}

func (f *fakeDriver) Unlock(dev, mapper string, _ []byte) (*device.Luks2, error) {
	f.ops = append(f.ops, fmt.Sprintf("unlock %s %s", dev, mapper))
	return device.Unlocked(dev, mapper), nil
}

func (f *fakeDriver) ImportVolumeGroup(vg string) error {
	f.ops = append(f.ops, "import "+vg)
	return nil
}

func (f *fakeDriver) ActivateVolume(vg, lv string) error {
	f.ops = append(f.ops, fmt.Sprintf("activate %s/%s", vg, lv))
	return nil
}

func (f *fakeDriver) Mount(dev, fsType, target string, options []string) error {
	op := fmt.Sprintf("mount %s %s %s", dev, fsType, target)
	if len(options) > 0 {
		op += " " + strings.Join(options, ",")
	}
	f.ops = append(f.ops, op)
	if dev == f.failMount {
		return &device.DiskError{Op: "mount", Device: dev, Target: target, Err: errors.New("wrong fs type")}
	}
	return nil
}

func (f *fakeDriver) SwapOn(dev string) error {
	f.ops = append(f.ops, "swapon "+dev)
	return nil
}

func (f *fakeDriver) mounts() []string {
	var m []string
	for _, op := range f.ops {
		if strings.HasPrefix(op, "mount ") || strings.HasPrefix(op, "swapon ") {
			m = append(m, op)
		}
	}
	return m
}

type fakeProber struct{}

func (fakeProber) PartUUID(dev string) (string, error) {
	return "partuuid-" + strings.TrimPrefix(dev, "/dev/"), nil
}

func (fakeProber) FilesystemUUID(dev string) (string, error) {
	if strings.HasPrefix(dev, "/dev/mapper/") {
		return "", errors.New("no uuid")
	}
	return "uuid-" + strings.TrimPrefix(dev, "/dev/"), nil
}

func (fakeProber) LuksUUIDFromMapper(mapperDev string) (string, error) {
	return "luks-" + strings.TrimPrefix(mapperDev, "/dev/mapper/"), nil
}

func (fakeProber) PhysicalVolumeSegment(vg, lv string) (device.PVSegment, error) {
	return device.PVSegment{PVName: "/dev/mapper/cryptlvm", VGName: vg, LVName: lv}, nil
}

type fakeCrypt struct {
	added    []string
	enrolled []string
}

func (f *fakeCrypt) AddKey(dev string, _ []byte, _ string) error {
	f.added = append(f.added, dev)
	return nil
}

func (f *fakeCrypt) LuksUUID(dev string) (string, error) {
	return "11111111-2222-3333-4444-555555555555", nil
}

func (f *fakeCrypt) EnrollFido2(_ schema.Fido2Device, dev string, _ []byte) error {
	f.enrolled = append(f.enrolled, dev)
	return nil
}

type fakeRunner struct {
	cmds []string
}

func (f *fakeRunner) Run(command string) (string, error) {
	f.cmds = append(f.cmds, command)
	return "", nil
}
