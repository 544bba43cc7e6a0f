package utils_test

import (
	"os"
	"path/filepath"

	"github.com/containerd/containerd/mount"
	"github.com/kairos-io/diskcore/internal/utils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"
)

var _ = Describe("mount utils", func() {
	Context("MountToFstab", func() {
		It("splits options with values", func() {
			m := utils.MountToFstab(mount.Mount{
				Type:    "btrfs",
				Source:  "/dev/mapper/root",
				Options: []string{"compress=zstd", "subvol=@home", "noatime"},
			})
			Expect(m.Spec).To(Equal("/dev/mapper/root"))
			Expect(m.VfsType).To(Equal("btrfs"))
			Expect(m.MntOps).To(HaveKeyWithValue("compress", "zstd"))
			Expect(m.MntOps).To(HaveKeyWithValue("subvol", "@home"))
			Expect(m.MntOps).To(HaveKeyWithValue("noatime", ""))
		})
		It("keeps everything after the first equal sign", func() {
			m := utils.MountToFstab(mount.Mount{Options: []string{"context=system_u:object_r:a=b"}})
			Expect(m.MntOps).To(HaveKeyWithValue("context", "system_u:object_r:a=b"))
		})
	})
	Context("CleanTargetForFstab", func() {
		It("strips the target", func() {
			Expect(utils.CleanTargetForFstab("/mnt", "/mnt/boot")).To(Equal("/boot"))
			Expect(utils.CleanTargetForFstab("/mnt", "/mnt/var/log")).To(Equal("/var/log"))
		})
		It("returns / for the target itself", func() {
			Expect(utils.CleanTargetForFstab("/mnt", "/mnt")).To(Equal("/"))
			Expect(utils.CleanTargetForFstab("/mnt/", "/mnt")).To(Equal("/"))
		})
		It("leaves paths outside the target alone", func() {
			Expect(utils.CleanTargetForFstab("/mnt", "/srv/data")).To(Equal("/srv/data"))
		})
	})
	Context("PathDepth", func() {
		It("counts path components", func() {
			Expect(utils.PathDepth("/")).To(Equal(0))
			Expect(utils.PathDepth("")).To(Equal(0))
			Expect(utils.PathDepth("/home")).To(Equal(1))
			Expect(utils.PathDepth("/var/log")).To(Equal(2))
			Expect(utils.PathDepth("var/log/")).To(Equal(2))
		})
	})
})

var _ = Describe("common utils", func() {
	var fs vfs.FS
	var cleanup func()

	BeforeEach(func() {
		var err error
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{
			"/run/diskcore.env": "BOOTLOADER=systemd-boot\nUKI=true\nZRAM=0\nKERNELS=\"linux linux-lts\"\n",
		})
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		cleanup()
	})

	It("reads env files", func() {
		path, err := fs.RawPath("/run/diskcore.env")
		Expect(err).ToNot(HaveOccurred())
		env, err := utils.ReadEnv(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(env).To(HaveKeyWithValue("BOOTLOADER", "systemd-boot"))
		Expect(utils.EnvBool(env, "UKI")).To(BeTrue())
		Expect(utils.EnvBool(env, "ZRAM")).To(BeFalse())
		Expect(utils.EnvBool(env, "PARTUUID")).To(BeFalse())
		Expect(utils.EnvList(env, "KERNELS")).To(Equal([]string{"linux", "linux-lts"}))
		Expect(utils.EnvList(env, "KERNEL_PARAMS")).To(BeEmpty())
	})
	It("fails on missing env files", func() {
		path, err := fs.RawPath("/run/missing.env")
		Expect(err).ToNot(HaveOccurred())
		_, err = utils.ReadEnv(path)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
	It("creates missing directories", func() {
		path, err := fs.RawPath("/mnt/boot")
		Expect(err).ToNot(HaveOccurred())
		Expect(utils.CreateIfNotExists(filepath.Join(path, "efi"))).To(Succeed())
		info, err := fs.Stat("/mnt/boot/efi")
		Expect(err).ToNot(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
		// already there
		Expect(utils.CreateIfNotExists(filepath.Join(path, "efi"))).To(Succeed())
	})
	It("cleans and dedups slices", func() {
		Expect(utils.CleanupSlice([]string{" rw ", "", "quiet", "  "})).To(Equal([]string{"rw", "quiet"}))
		Expect(utils.UniqueSlice([]string{"rw", "quiet", "rw", "splash"})).To(Equal([]string{"rw", "quiet", "splash"}))
	})
})
