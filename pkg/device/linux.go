package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/gofrs/uuid"
	"github.com/jaypipes/ghw"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/kairos-io/diskcore/pkg/op"
)

// Linux drives cryptsetup, lvm and the mount syscalls of the running system.
type Linux struct {
	Runner Runner
	// Attempts and Delay bound the lookups that wait on udev after an unlock or activation.
	Attempts uint
	Delay    time.Duration
	// Block lists the block devices, ghw.Block unless replaced.
	Block func() (*ghw.BlockInfo, error)
	// MapperExists reports whether a mapper node is already present.
	MapperExists func(path string) bool
}

func NewLinux() *Linux {
	return &Linux{
		Runner:   ExecRunner{},
		Attempts: 5,
		Delay:    time.Second,
		Block: func() (*ghw.BlockInfo, error) {
			return ghw.Block()
		},
		MapperExists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

func (l *Linux) retry(f func() error) error {
	return retry.Do(f, retry.Attempts(l.Attempts), retry.Delay(l.Delay), retry.LastErrorOnly(true))
}

// Unlock opens dev as mapper with the passphrase fed on stdin.
func (l *Linux) Unlock(dev, mapper string, passphrase []byte) (*Luks2, error) {
	log := internalUtils.Log.With().Str("what", dev).Str("mapper", mapper).Logger()
	if len(passphrase) == 0 {
		return nil, diskErr("unlock", dev, mapper, errors.New("no passphrase"))
	}
	if l.MapperExists != nil && l.MapperExists(MapperPath(mapper)) {
		log.Info().Msg("Container already unlocked")
		return Unlocked(dev, mapper), nil
	}
	out, err := l.Runner.RunWithInput(passphrase, nil, "cryptsetup", "open", "--type", "luks2", "--key-file=-", dev, mapper)
	if err != nil {
		log.Debug().Str("out", out).Msg("cryptsetup open failed")
		return nil, diskErr("unlock", dev, mapper, err)
	}
	log.Info().Msg("Unlocked")
	return Unlocked(dev, mapper), nil
}

// Mount mounts dev at target, creating target first.
func (l *Linux) Mount(dev, fsType, target string, options []string) error {
	return diskErr("mount", dev, target, op.NewMount(dev, fsType, target, options).Run())
}

func (l *Linux) SwapOn(dev string) error {
	out, err := l.Runner.Run(fmt.Sprintf("swapon %s", dev))
	if err != nil {
		return diskErr("swapon", dev, "", fmt.Errorf("%w: %s", err, strings.TrimSpace(out)))
	}
	return nil
}

// ImportVolumeGroup imports vg. A group that was never exported is fine as it is.
func (l *Linux) ImportVolumeGroup(vg string) error {
	out, err := l.Runner.Run(fmt.Sprintf("vgimport %s", vg))
	if err != nil {
		if strings.Contains(out, "is not exported") {
			internalUtils.Log.Debug().Str("vg", vg).Msg("Volume group not exported, nothing to import")
			return nil
		}
		return diskErr("vgimport", vg, "", fmt.Errorf("%w: %s", err, strings.TrimSpace(out)))
	}
	return nil
}

func (l *Linux) ActivateVolume(vg, lv string) error {
	ref := fmt.Sprintf("%s/%s", vg, lv)
	out, err := l.Runner.Run(fmt.Sprintf("lvchange -ay %s", ref))
	if err != nil {
		return diskErr("lvchange", ref, "", fmt.Errorf("%w: %s", err, strings.TrimSpace(out)))
	}
	return nil
}

type pvsReport struct {
	Report []struct {
		PVSeg []PVSegment `json:"pvseg"`
	} `json:"report"`
}

// PhysicalVolumeSegment returns the physical volume holding the first segment of vg/lv.
func (l *Linux) PhysicalVolumeSegment(vg, lv string) (PVSegment, error) {
	var seg PVSegment
	cmd := fmt.Sprintf("pvs --segments -o pv_name,vg_name,lv_name -S vg_name=%s,lv_name=%s --reportformat json", vg, lv)
	err := l.retry(func() error {
		out, err := l.Runner.Run(cmd)
		if err != nil {
			return err
		}
		report := pvsReport{}
		if err := json.Unmarshal([]byte(out), &report); err != nil {
			return err
		}
		for _, r := range report.Report {
			for _, s := range r.PVSeg {
				if s.VGName == vg && s.LVName == lv && s.PVName != "" {
					seg = s
					return nil
				}
			}
		}
		return fmt.Errorf("no segment for %s/%s", vg, lv)
	})
	return seg, diskErr("pvs", fmt.Sprintf("%s/%s", vg, lv), "", err)
}

type lsblkReport struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	UUID     string        `json:"uuid"`
	Children []lsblkDevice `json:"children"`
}

// LuksUUIDFromMapper walks up from an unlocked mapper device to the LUKS superblock below it.
func (l *Linux) LuksUUIDFromMapper(mapperDev string) (string, error) {
	var id string
	err := l.retry(func() error {
		out, err := l.Runner.Run(fmt.Sprintf("lsblk --json --inverse -o NAME,PATH,UUID %s", mapperDev))
		if err != nil {
			return err
		}
		report := lsblkReport{}
		if err := json.Unmarshal([]byte(out), &report); err != nil {
			return err
		}
		if len(report.Blockdevices) == 0 || len(report.Blockdevices[0].Children) == 0 {
			return fmt.Errorf("no device below %s", mapperDev)
		}
		id, err = parseUUID(report.Blockdevices[0].Children[0].UUID)
		return err
	})
	return id, diskErr("lsblk", mapperDev, "", err)
}

// FilesystemUUID returns the UUID blkid reports for dev. For a LUKS container it is the header UUID.
func (l *Linux) FilesystemUUID(dev string) (string, error) {
	var id string
	err := l.retry(func() error {
		out, err := l.Runner.Run(fmt.Sprintf("blkid -s UUID -o value %s", dev))
		if err != nil {
			return err
		}
		id, err = parseUUID(out)
		return err
	})
	return id, diskErr("blkid", dev, "", err)
}

// LuksUUID asks cryptsetup for the header UUID of dev.
func (l *Linux) LuksUUID(dev string) (string, error) {
	out, err := l.Runner.Run(fmt.Sprintf("cryptsetup luksUUID %s", dev))
	if err != nil {
		return "", diskErr("luksUUID", dev, "", err)
	}
	id, err := parseUUID(out)
	return id, diskErr("luksUUID", dev, "", err)
}

// PartUUID looks dev up in the block device scan and falls back to blkid.
// MBR partition UUIDs are not RFC 4122 UUIDs so they are returned as found.
func (l *Linux) PartUUID(dev string) (string, error) {
	name := filepath.Base(dev)
	if resolved, err := filepath.EvalSymlinks(dev); err == nil {
		name = filepath.Base(resolved)
	}
	if l.Block != nil {
		if blk, err := l.Block(); err == nil {
			for _, disk := range blk.Disks {
				for _, p := range disk.Partitions {
					if p.Name == name && p.UUID != "" {
						return p.UUID, nil
					}
				}
			}
		} else {
			internalUtils.Log.Debug().Err(err).Msg("Scanning block devices")
		}
	}

	var id string
	err := l.retry(func() error {
		out, err := l.Runner.Run(fmt.Sprintf("blkid -s PARTUUID -o value %s", dev))
		if err != nil {
			return err
		}
		id = strings.TrimSpace(out)
		if id == "" {
			return fmt.Errorf("no PARTUUID for %s", dev)
		}
		return nil
	})
	return id, diskErr("blkid", dev, "", err)
}

// AddKey adds keyFile as a new key of dev, authorized with the passphrase.
func (l *Linux) AddKey(dev string, passphrase []byte, keyFile string) error {
	_, err := l.Runner.RunWithInput(passphrase, nil, "cryptsetup", "luksAddKey", "--batch-mode", "--key-file=-", dev, keyFile)
	return diskErr("luksAddKey", dev, keyFile, err)
}

func parseUUID(s string) (string, error) {
	id, err := uuid.FromString(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
