package utils

import (
	"path/filepath"
	"strings"

	"github.com/containerd/containerd/mount"
	"github.com/deniswernert/go-fstab"
)

// MountToFstab transforms a mount.Mount into a fstab.Mount so we can transform existing mounts into the fstab format.
func MountToFstab(m mount.Mount) *fstab.Mount {
	opts := map[string]string{}
	for _, o := range m.Options {
		if strings.Contains(o, "=") {
			dat := strings.SplitN(o, "=", 2)
			opts[dat[0]] = dat[1]
		} else {
			opts[o] = ""
		}
	}
	return &fstab.Mount{
		Spec:    m.Source,
		VfsType: m.Type,
		MntOps:  opts,
		Freq:    0,
		PassNo:  0,
	}
}

// CleanTargetForFstab turns a path under the install target into the path the
// installed system will see, e.g. /mnt/boot with target /mnt becomes /boot.
func CleanTargetForFstab(target, path string) string {
	rel, err := filepath.Rel(target, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	if rel == "." {
		return "/"
	}
	return "/" + rel
}

// PathDepth counts the components of an absolute path. The root and an empty path have depth 0.
func PathDepth(p string) int {
	p = strings.Trim(filepath.Clean("/"+p), "/")
	if p == "" {
		return 0
	}
	return len(strings.Split(p, "/"))
}
