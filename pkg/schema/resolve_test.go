package schema_test

import (
	"github.com/kairos-io/diskcore/pkg/schema"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func partition(dev string, fs schema.FilesystemType, mp string, flags ...schema.PartitionFlag) *schema.PartitionModification {
	return &schema.PartitionModification{DevPath: dev, FsType: fs, Mountpoint: mp, Flags: flags}
}

var _ = Describe("resolving", func() {
	Context("ResolveRoot", func() {
		It("finds a root partition", func() {
			cfg := &schema.DiskLayoutConfiguration{DeviceModifications: []*schema.DeviceModification{{
				Partitions: []*schema.PartitionModification{
					partition("/dev/vda1", schema.Fat32, "/boot"),
					partition("/dev/vda2", schema.Ext4, "/"),
				},
			}}}
			root, err := cfg.ResolveRoot()
			Expect(err).ToNot(HaveOccurred())
			Expect(root.DevicePath()).To(Equal("/dev/vda2"))
		})
		It("finds root in a btrfs subvolume", func() {
			p := partition("/dev/vda2", schema.Btrfs, "")
			p.Subvolumes = []schema.SubvolumeModification{{Name: "@home", Mountpoint: "/home"}, {Name: "@", Mountpoint: "/"}}
			cfg := &schema.DiskLayoutConfiguration{DeviceModifications: []*schema.DeviceModification{{
				Partitions: []*schema.PartitionModification{p},
			}}}
			root, err := cfg.ResolveRoot()
			Expect(err).ToNot(HaveOccurred())
			Expect(root).To(BeIdenticalTo(p))
			Expect(cfg.DeviceModifications[0].RootPartition()).To(BeIdenticalTo(p))
		})
		It("finds a root volume", func() {
			root := &schema.LvmVolume{Name: "root", FsType: schema.Xfs, Mountpoint: "/"}
			cfg := &schema.DiskLayoutConfiguration{
				DeviceModifications: []*schema.DeviceModification{{
					Partitions: []*schema.PartitionModification{
						partition("/dev/vda1", schema.Fat32, "/boot"),
						partition("/dev/vda2", schema.Ext4, ""),
					},
				}},
				LvmConfig: &schema.LvmConfiguration{VolGroups: []*schema.LvmVolumeGroup{{
					Name: "vg0", PVs: []string{"/dev/vda2"}, Volumes: []*schema.LvmVolume{root},
				}}},
			}
			found, err := cfg.ResolveRoot()
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeIdenticalTo(root))
		})
	})

	Context("ResolveBoot", func() {
		It("boots from the only mounted partition of a single device", func() {
			cfg := &schema.DiskLayoutConfiguration{DeviceModifications: []*schema.DeviceModification{{
				Partitions: []*schema.PartitionModification{
					partition("/dev/vda1", schema.Ext4, "/"),
					partition("/dev/vda2", schema.LinuxSwap, ""),
				},
			}}}
			boot, err := cfg.ResolveBoot()
			Expect(err).ToNot(HaveOccurred())
			Expect(boot.DevPath).To(Equal("/dev/vda1"))
		})
		It("prefers the boot flag", func() {
			cfg := &schema.DiskLayoutConfiguration{DeviceModifications: []*schema.DeviceModification{{
				Partitions: []*schema.PartitionModification{
					partition("/dev/vda1", schema.Ext4, "/boot"),
					partition("/dev/vda2", schema.Fat32, "/efi", schema.FlagBoot, schema.FlagESP),
					partition("/dev/vda3", schema.Ext4, "/"),
				},
			}}}
			boot, err := cfg.ResolveBoot()
			Expect(err).ToNot(HaveOccurred())
			Expect(boot.DevPath).To(Equal("/dev/vda2"))
		})
		It("falls back to /boot", func() {
			cfg := &schema.DiskLayoutConfiguration{DeviceModifications: []*schema.DeviceModification{
				{Partitions: []*schema.PartitionModification{partition("/dev/vda1", schema.Ext4, "/")}},
				{Partitions: []*schema.PartitionModification{partition("/dev/vdb1", schema.Ext4, "/boot/")}},
			}}
			boot, err := cfg.ResolveBoot()
			Expect(err).ToNot(HaveOccurred())
			Expect(boot.DevPath).To(Equal("/dev/vdb1"))
		})
		It("fails without a boot partition", func() {
			cfg := &schema.DiskLayoutConfiguration{DeviceModifications: []*schema.DeviceModification{{
				Partitions: []*schema.PartitionModification{
					partition("/dev/vda1", schema.Ext4, "/"),
					partition("/dev/vda2", schema.Ext4, "/home"),
				},
			}}}
			_, err := cfg.ResolveBoot()
			Expect(err).To(HaveOccurred())
		})
	})

	Context("ResolveEFI", func() {
		It("needs the esp flag and a mountpoint", func() {
			esp := partition("/dev/vda1", schema.Fat32, "", schema.FlagESP)
			cfg := &schema.DiskLayoutConfiguration{DeviceModifications: []*schema.DeviceModification{{
				Partitions: []*schema.PartitionModification{esp, partition("/dev/vda2", schema.Ext4, "/")},
			}}}
			_, err := cfg.ResolveEFI()
			Expect(err).To(HaveOccurred())

			esp.Mountpoint = "/boot/efi"
			found, err := cfg.ResolveEFI()
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeIdenticalTo(esp))
			Expect(found.RelativeMountpoint()).To(Equal("boot/efi"))
		})
	})

	Context("filesystems", func() {
		It("maps to kernel names", func() {
			Expect(schema.Fat32.MountType()).To(Equal("vfat"))
			Expect(schema.Fat12.MountType()).To(Equal("vfat"))
			Expect(schema.Ntfs.MountType()).To(Equal("ntfs3"))
			Expect(schema.LinuxSwap.MountType()).To(Equal("swap"))
			Expect(schema.Ext4.MountType()).To(Equal("ext4"))
		})
		It("only btrfs keeps mountpoints in subvolumes", func() {
			Expect(schema.Btrfs.StoresMountpointsInSubvolumes()).To(BeTrue())
			Expect(schema.Ext4.StoresMountpointsInSubvolumes()).To(BeFalse())
		})
	})

	Context("encryption", func() {
		It("is safe on a nil configuration", func() {
			var enc *schema.DiskEncryption
			Expect(enc.EncryptionType()).To(Equal(schema.NoEncryption))
			Expect(enc.Partitions()).To(BeEmpty())
			Expect(enc.HasHSM()).To(BeFalse())
			Expect(enc.Encrypts(partition("/dev/vda1", schema.Ext4, "/"))).To(BeFalse())
			enc.Wipe()
		})
		It("wipes the passphrase", func() {
			pass := []byte("hunter2")
			enc := &schema.DiskEncryption{Passphrase: pass}
			enc.Wipe()
			Expect(enc.Passphrase).To(BeNil())
			Expect(pass).To(Equal(make([]byte, 7)))
		})
	})
})
