package topology_test

import (
	"errors"
	"fmt"

	"github.com/kairos-io/diskcore/internal/constants"
	"github.com/kairos-io/diskcore/pkg/device"
	"github.com/kairos-io/diskcore/pkg/schema"
	"github.com/kairos-io/diskcore/pkg/topology"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// recordingDriver logs every device operation in call order.
type recordingDriver struct {
	ops    []string
	failOn string
}

func (r *recordingDriver) record(op string) error {
	r.ops = append(r.ops, op)
	if op == r.failOn {
		return &device.DiskError{Op: op, Err: errors.New("failed")}
	}
	return nil
}

func (r *recordingDriver) Unlock(dev, mapper string, _ []byte) (*device.Luks2, error) {
	if err := r.record(fmt.Sprintf("unlock %s %s", dev, mapper)); err != nil {
		return nil, err
	}
	return device.Unlocked(dev, mapper), nil
}

func (r *recordingDriver) ImportVolumeGroup(vg string) error {
	return r.record("import " + vg)
}

func (r *recordingDriver) ActivateVolume(vg, lv string) error {
	return r.record(fmt.Sprintf("activate %s/%s", vg, lv))
}

func mustParse(layout string) *schema.DiskLayoutConfiguration {
	cfg, err := schema.Parse([]byte(layout))
	ExpectWithOffset(1, err).ToNot(HaveOccurred())
	return cfg
}

const plain = `
device_modifications:
  - device: /dev/vda
    partitions:
      - {dev_path: /dev/vda1, fs_type: fat32, mountpoint: /boot, flags: [boot, esp]}
      - {dev_path: /dev/vda2, fs_type: ext4, mountpoint: /}
`

const luks = `
device_modifications:
  - device: /dev/vda
    partitions:
      - {dev_path: /dev/vda1, fs_type: fat32, mountpoint: /boot, flags: [boot, esp]}
      - {dev_path: /dev/vda2, fs_type: ext4, mountpoint: /, mapper_name: root}
      - {dev_path: /dev/vda3, fs_type: ext4, mountpoint: /home, mapper_name: home}
disk_encryption:
  encryption_type: luks
  partitions: [/dev/vda2, /dev/vda3]
`

const lvmOnLuks = `
device_modifications:
  - device: /dev/vda
    partitions:
      - {dev_path: /dev/vda1, fs_type: fat32, mountpoint: /boot, flags: [boot, esp]}
      - {dev_path: /dev/vda2, fs_type: ext4, mapper_name: cryptlvm}
lvm_config:
  vol_groups:
    - name: vg0
      pvs: [/dev/vda2]
      volumes:
        - {name: root, fs_type: ext4, mountpoint: /}
        - {name: home, fs_type: ext4, mountpoint: /home}
disk_encryption:
  encryption_type: lvm_on_luks
  partitions: [/dev/vda2]
`

const luksOnLvm = `
device_modifications:
  - device: /dev/vda
    partitions:
      - {dev_path: /dev/vda1, fs_type: fat32, mountpoint: /boot, flags: [boot, esp]}
      - {dev_path: /dev/vda2, fs_type: ext4}
lvm_config:
  vol_groups:
    - name: vg0
      pvs: [/dev/vda2]
      volumes:
        - {name: root, fs_type: ext4, mountpoint: /, mapper_name: root}
        - {name: home, fs_type: ext4, mountpoint: /home, mapper_name: home}
disk_encryption:
  encryption_type: luks_on_lvm
  lvm_volumes: [vg0/root, vg0/home]
`

var _ = Describe("topology", func() {
	var driver *recordingDriver

	BeforeEach(func() {
		driver = &recordingDriver{}
	})

	It("does nothing without encryption", func() {
		plan, err := topology.Resolve(mustParse(plain))
		Expect(err).ToNot(HaveOccurred())
		Expect(plan).To(Equal(topology.NoEncryption{}))
		set, err := topology.Execute(plan, driver, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(set.Partitions).To(BeEmpty())
		Expect(driver.ops).To(BeEmpty())
	})

	It("unlocks every encrypted partition", func() {
		cfg := mustParse(luks)
		plan, err := topology.Resolve(cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(plan.Type()).To(Equal(schema.Luks))
		Expect(plan.Phases()).To(HaveLen(1))
		Expect(plan.Phases()[0].Name).To(Equal(constants.OpUnlockLuks))

		set, err := topology.Execute(plan, driver, []byte("secret"))
		Expect(err).ToNot(HaveOccurred())
		Expect(driver.ops).To(Equal([]string{"unlock /dev/vda2 root", "unlock /dev/vda3 home"}))
		Expect(set.Partitions).To(HaveLen(2))
		dev, ok := set.Partitions[cfg.DiskEncryption.Partitions()[1]].MapperDevice()
		Expect(ok).To(BeTrue())
		Expect(dev).To(Equal("/dev/mapper/home"))
	})

	It("unlocks the physical volumes before importing lvm on luks", func() {
		plan, err := topology.Resolve(mustParse(lvmOnLuks))
		Expect(err).ToNot(HaveOccurred())
		Expect(plan.Type()).To(Equal(schema.LvmOnLuks))
		Expect([]string{plan.Phases()[0].Name, plan.Phases()[1].Name}).To(Equal([]string{constants.OpUnlockLuks, constants.OpImportLvm}))

		_, err = topology.Execute(plan, driver, []byte("secret"))
		Expect(err).ToNot(HaveOccurred())
		Expect(driver.ops).To(Equal([]string{
			"unlock /dev/vda2 cryptlvm",
			"import vg0",
			"activate vg0/root",
			"activate vg0/home",
		}))
	})

	It("imports lvm before unlocking volumes for luks on lvm", func() {
		cfg := mustParse(luksOnLvm)
		plan, err := topology.Resolve(cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(plan.Type()).To(Equal(schema.LuksOnLvm))
		Expect([]string{plan.Phases()[0].Name, plan.Phases()[1].Name}).To(Equal([]string{constants.OpImportLvm, constants.OpUnlockLuksOnLvm}))

		set, err := topology.Execute(plan, driver, []byte("secret"))
		Expect(err).ToNot(HaveOccurred())
		Expect(driver.ops).To(Equal([]string{
			"import vg0",
			"activate vg0/root",
			"activate vg0/home",
			"unlock /dev/vg0/root root",
			"unlock /dev/vg0/home home",
		}))
		Expect(set.Volumes).To(HaveLen(2))
		Expect(set.Volumes).To(HaveKey(cfg.DiskEncryption.Volumes()[0]))
	})

	It("stops at the first failure and keeps what was opened", func() {
		driver.failOn = "unlock /dev/vda3 home"
		plan, err := topology.Resolve(mustParse(luks))
		Expect(err).ToNot(HaveOccurred())
		set, err := topology.Execute(plan, driver, []byte("secret"))
		Expect(err).To(MatchError(constants.ErrDisk))
		Expect(set.Partitions).To(HaveLen(1))
	})

	It("stops importing when a group fails", func() {
		driver.failOn = "import vg0"
		plan, err := topology.Resolve(mustParse(luksOnLvm))
		Expect(err).ToNot(HaveOccurred())
		_, err = topology.Execute(plan, driver, []byte("secret"))
		Expect(err).To(HaveOccurred())
		Expect(driver.ops).To(Equal([]string{"import vg0"}))
	})
})
