/*
Copyright © 2022 SUSE LLC
Copyright © 2023 Kairos authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/containerd/containerd/mount"
	"github.com/hashicorp/go-multierror"
	"github.com/kairos-io/kairos-sdk/utils"
)

// HostBinds are bound into the target before running anything in it, so tools
// like bootctl see the devices and the EFI variables of the running machine.
var HostBinds = []string{"/dev", "/dev/pts", "/proc", "/sys", "/sys/firmware/efi/efivars", "/run"}

// Chroot runs commands inside the mounted target.
type Chroot struct {
	Root  string
	Binds []string

	exists  func(path string) bool
	bind    func(source, target string) error
	unbind  func(target string) error
	jail    func(root string, f func() error) error
	command func(command string) (string, error)

	bound []string
}

func NewChroot(root string) *Chroot {
	return &Chroot{
		Root:    root,
		Binds:   HostBinds,
		exists:  hostHas,
		bind:    bindMount,
		unbind:  func(target string) error { return mount.UnmountAll(target, 0) },
		jail:    enterRoot,
		command: utils.SH,
	}
}

func hostHas(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func bindMount(source, target string) error {
	if err := CreateIfNotExists(target); err != nil {
		return err
	}
	m := mount.Mount{Type: "bind", Source: source, Options: []string{"rbind"}}
	return m.Mount(target)
}

// Bind mounts the host paths under the root. Paths the host does not have,
// like efivars on BIOS machines, are left out. On failure whatever got bound is undone.
func (c *Chroot) Bind() error {
	if len(c.bound) > 0 {
		return fmt.Errorf("%s already has host paths bound", c.Root)
	}
	for _, src := range c.Binds {
		if !c.exists(src) {
			Log.Debug().Str("what", src).Msg("Not on the host, skipping bind")
			continue
		}
		target := filepath.Join(c.Root, src)
		if err := c.bind(src, target); err != nil {
			Log.Err(err).Str("what", src).Str("where", target).Msg("Binding into chroot")
			return multierror.Append(err, c.Unbind()).ErrorOrNil()
		}
		c.bound = append(c.bound, target)
	}
	return nil
}

// Unbind releases the binds, last one first. Targets that fail stay recorded.
func (c *Chroot) Unbind() error {
	var errs *multierror.Error
	var failed []string
	for i := len(c.bound) - 1; i >= 0; i-- {
		if err := c.unbind(c.bound[i]); err != nil {
			Log.Err(err).Str("where", c.bound[i]).Msg("Unbinding from chroot")
			errs = multierror.Append(errs, err)
			failed = append([]string{c.bound[i]}, failed...)
		}
	}
	c.bound = failed
	return errs.ErrorOrNil()
}

// Run executes a shell command inside the root and returns its combined output.
// The binds only live for the duration of the command.
func (c *Chroot) Run(command string) (out string, err error) {
	Log.Debug().Str("cmd", command).Str("root", c.Root).Msg("Running in chroot")
	if err = c.Bind(); err != nil {
		return "", err
	}
	defer func() {
		if unbindErr := c.Unbind(); unbindErr != nil {
			err = multierror.Append(err, unbindErr).ErrorOrNil()
		}
	}()

	err = c.jail(c.Root, func() error {
		var runErr error
		out, runErr = c.command(command)
		return runErr
	})
	if err != nil {
		Log.Err(err).Str("cmd", command).Str("out", out).Msg("Running in chroot")
	}
	return out, err
}

// enterRoot runs f with root as the filesystem root and the working directory,
// then returns to the original root and directory.
func enterRoot(root string, f func() error) (err error) {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	oldRoot, err := os.Open("/")
	if err != nil {
		return err
	}
	defer oldRoot.Close()

	if err := syscall.Chdir(root); err != nil {
		return err
	}
	if err := syscall.Chroot(root); err != nil {
		return multierror.Append(err, os.Chdir(cwd)).ErrorOrNil()
	}
	defer func() {
		var errs *multierror.Error
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if e := oldRoot.Chdir(); e != nil {
			errs = multierror.Append(errs, e)
		} else if e := syscall.Chroot("."); e != nil {
			errs = multierror.Append(errs, e)
		}
		if e := os.Chdir(cwd); e != nil {
			errs = multierror.Append(errs, e)
		}
		err = errs.ErrorOrNil()
	}()

	return f()
}
