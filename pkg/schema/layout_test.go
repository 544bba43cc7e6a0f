package schema_test

import (
	"github.com/kairos-io/diskcore/internal/constants"
	"github.com/kairos-io/diskcore/pkg/schema"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const luksLayout = `
config_type: manual_partitioning
device_modifications:
  - device: /dev/vda
    partitions:
      - dev_path: /dev/vda1
        fs_type: fat32
        mountpoint: /boot
        flags: [boot, esp]
      - dev_path: /dev/vda2
        fs_type: ext4
        mountpoint: /
        mapper_name: root
      - dev_path: /dev/vda3
        fs_type: ext4
        mountpoint: /home
        mapper_name: home
disk_encryption:
  encryption_type: luks
  partitions: [/dev/vda2, /dev/vda3]
`

const luksOnLvmLayout = `
device_modifications:
  - device: /dev/vda
    partitions:
      - dev_path: /dev/vda1
        fs_type: fat32
        mountpoint: /boot
        flags: [boot, esp]
      - dev_path: /dev/vda2
        fs_type: ext4
lvm_config:
  vol_groups:
    - name: vg0
      pvs: [/dev/vda2]
      volumes:
        - name: root
          fs_type: btrfs
          mapper_name: root
          subvolumes:
            - name: "@"
              mountpoint: /
            - name: "@home"
              mountpoint: /home
        - name: data
          fs_type: ext4
          mountpoint: /srv
          mapper_name: data
disk_encryption:
  encryption_type: luks_on_lvm
  lvm_volumes: [vg0/root, data]
`

var _ = Describe("layout", func() {
	Context("Parse", func() {
		It("resolves encrypted partitions", func() {
			cfg, err := schema.Parse([]byte(luksLayout))
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.ConfigType).To(Equal(schema.ManualPartitioning))
			Expect(cfg.EncryptionType()).To(Equal(schema.Luks))
			Expect(cfg.DiskEncryption.Partitions()).To(HaveLen(2))
			Expect(cfg.DiskEncryption.Partitions()[0].DevPath).To(Equal("/dev/vda2"))
			Expect(cfg.DiskEncryption.Passphrase).To(BeEmpty())
		})
		It("resolves encrypted volumes and their groups", func() {
			cfg, err := schema.Parse([]byte(luksOnLvmLayout))
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.ConfigType).To(Equal(schema.DefaultLayout))
			vols := cfg.DiskEncryption.Volumes()
			Expect(vols).To(HaveLen(2))
			Expect(vols[0].VGName).To(Equal("vg0"))
			Expect(vols[0].DevicePath()).To(Equal("/dev/vg0/root"))
			Expect(vols[0].MapperPath()).To(Equal("/dev/mapper/root"))
			Expect(cfg.LvmConfig.IsPhysicalVolume("/dev/vda2")).To(BeTrue())
			Expect(cfg.LvmConfig.IsPhysicalVolume("/dev/vda1")).To(BeFalse())
		})
		It("rejects broken yaml as a configuration error", func() {
			_, err := schema.Parse([]byte("device_modifications: [oops"))
			Expect(err).To(MatchError(constants.ErrConfiguration))
		})
		It("is idempotent", func() {
			cfg, err := schema.Parse([]byte(luksOnLvmLayout))
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Validate()).To(Succeed())
			Expect(cfg.DiskEncryption.Volumes()).To(HaveLen(2))
		})
	})

	Context("Validate", func() {
		var cfg *schema.DiskLayoutConfiguration

		BeforeEach(func() {
			cfg = &schema.DiskLayoutConfiguration{
				DeviceModifications: []*schema.DeviceModification{{
					Device: "/dev/vda",
					Partitions: []*schema.PartitionModification{
						{DevPath: "/dev/vda1", FsType: schema.Fat32, Mountpoint: "/boot", Flags: []schema.PartitionFlag{schema.FlagBoot, schema.FlagESP}},
						{DevPath: "/dev/vda2", FsType: schema.Ext4, Mountpoint: "/", MapperName: "root"},
					},
				}},
			}
		})

		It("accepts a plain layout", func() {
			Expect(cfg.Validate()).To(Succeed())
			Expect(cfg.EncryptionType()).To(Equal(schema.NoEncryption))
		})
		It("rejects duplicated partitions", func() {
			cfg.DeviceModifications[0].Partitions = append(cfg.DeviceModifications[0].Partitions,
				&schema.PartitionModification{DevPath: "/dev/vda2", FsType: schema.Ext4})
			err := cfg.Validate()
			Expect(err).To(MatchError(constants.ErrConfiguration))
			Expect(err.Error()).To(ContainSubstring("declared twice"))
		})
		It("rejects unknown filesystems", func() {
			cfg.DeviceModifications[0].Partitions[1].FsType = "zfs"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("unknown filesystem")))
		})
		It("rejects subvolumes without a mountpoint", func() {
			root := cfg.DeviceModifications[0].Partitions[1]
			root.FsType = schema.Btrfs
			root.Mountpoint = ""
			root.Subvolumes = []schema.SubvolumeModification{{Name: "@snapshots"}, {Name: "@", Mountpoint: "/"}}
			err := cfg.Validate()
			Expect(err).To(MatchError(constants.ErrConfiguration))
			Expect(err.Error()).To(ContainSubstring("subvolume @snapshots"))

			root.Subvolumes[0].Mountpoint = "/.snapshots"
			Expect(cfg.Validate()).To(Succeed())
		})
		It("rejects a layout without root", func() {
			cfg.DeviceModifications[0].Partitions[1].Mountpoint = "/data"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("no root")))
		})
		It("rejects several roots and names them", func() {
			cfg.DeviceModifications[0].Partitions = append(cfg.DeviceModifications[0].Partitions,
				&schema.PartitionModification{DevPath: "/dev/vda3", FsType: schema.Ext4, Mountpoint: "/"})
			err := cfg.Validate()
			Expect(err).To(MatchError(constants.ErrConfiguration))
			Expect(err.Error()).To(ContainSubstring("/dev/vda2"))
			Expect(err.Error()).To(ContainSubstring("/dev/vda3"))
		})
		It("rejects encrypted partitions without a mapper name", func() {
			cfg.DeviceModifications[0].Partitions[1].MapperName = ""
			cfg.DiskEncryption = &schema.DiskEncryption{Type: schema.Luks, PartitionRefs: []string{"/dev/vda2"}}
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("no mapper name")))
		})
		It("rejects references to unknown partitions", func() {
			cfg.DiskEncryption = &schema.DiskEncryption{Type: schema.Luks, PartitionRefs: []string{"/dev/vdb1"}}
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("not part of the layout")))
		})
		It("rejects an encryption type with nothing to encrypt", func() {
			cfg.DiskEncryption = &schema.DiskEncryption{Type: schema.Luks}
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("nothing to encrypt")))
		})
		It("rejects encrypted entities without an encryption type", func() {
			cfg.DiskEncryption = &schema.DiskEncryption{PartitionRefs: []string{"/dev/vda2"}}
			Expect(cfg.Validate()).To(MatchError(constants.ErrConfiguration))
		})
		It("rejects an unknown encryption type", func() {
			cfg.DiskEncryption = &schema.DiskEncryption{Type: "zfs_native", PartitionRefs: []string{"/dev/vda2"}}
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("unknown encryption type")))
		})

		Context("with lvm", func() {
			BeforeEach(func() {
				cfg.DeviceModifications[0].Partitions[1] = &schema.PartitionModification{DevPath: "/dev/vda2", FsType: schema.Ext4, MapperName: "cryptlvm"}
				cfg.LvmConfig = &schema.LvmConfiguration{VolGroups: []*schema.LvmVolumeGroup{{
					Name: "vg0",
					PVs:  []string{"/dev/vda2"},
					Volumes: []*schema.LvmVolume{
						{Name: "root", FsType: schema.Ext4, Mountpoint: "/"},
						{Name: "swap", FsType: schema.LinuxSwap},
					},
				}}}
			})

			It("requires every physical volume to be encrypted for lvm on luks", func() {
				cfg.DiskEncryption = &schema.DiskEncryption{Type: schema.LvmOnLuks, PartitionRefs: []string{"/dev/vda2"}}
				Expect(cfg.Validate()).To(Succeed())

				cfg.DeviceModifications[0].Partitions = append(cfg.DeviceModifications[0].Partitions,
					&schema.PartitionModification{DevPath: "/dev/vda3", FsType: schema.Ext4})
				cfg.LvmConfig.VolGroups[0].PVs = append(cfg.LvmConfig.VolGroups[0].PVs, "/dev/vda3")
				Expect(cfg.Validate()).To(MatchError(ContainSubstring("/dev/vda3 of vg0 is not encrypted")))
			})
			It("rejects mounting a physical volume", func() {
				cfg.DeviceModifications[0].Partitions[1].Mountpoint = "/data"
				Expect(cfg.Validate()).To(MatchError(ContainSubstring("backs a volume group")))
			})
			It("rejects unknown physical volumes", func() {
				cfg.LvmConfig.VolGroups[0].PVs = []string{"/dev/vdb1"}
				Expect(cfg.Validate()).To(MatchError(ContainSubstring("unknown physical volume")))
			})
			It("rejects ambiguous volume references", func() {
				cfg.LvmConfig.VolGroups = append(cfg.LvmConfig.VolGroups, &schema.LvmVolumeGroup{
					Name:    "vg1",
					Volumes: []*schema.LvmVolume{{Name: "swap", FsType: schema.LinuxSwap, MapperName: "swap1"}},
				})
				cfg.LvmConfig.VolGroups[0].Volumes[1].MapperName = "swap0"
				cfg.DiskEncryption = &schema.DiskEncryption{Type: schema.LuksOnLvm, VolumeRefs: []string{"swap"}}
				Expect(cfg.Validate()).To(MatchError(ContainSubstring("ambiguous")))

				cfg.DiskEncryption.VolumeRefs = []string{"vg1/swap"}
				Expect(cfg.Validate()).To(Succeed())
				Expect(cfg.DiskEncryption.Volumes()[0].VGName).To(Equal("vg1"))
			})
		})
	})
})
