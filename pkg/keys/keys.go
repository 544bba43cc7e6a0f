package keys

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kairos-io/diskcore/internal/constants"
	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/kairos-io/diskcore/pkg/schema"
	"github.com/twpayne/go-vfs/v4"
)

// Crypt is the part of the device layer that writes key material.
type Crypt interface {
	AddKey(dev string, passphrase []byte, keyFile string) error
	LuksUUID(dev string) (string, error)
	EnrollFido2(hsm schema.Fido2Device, dev string, passphrase []byte) error
}

// Manager decides per encrypted container between a keyfile, the passphrase or the HSM.
type Manager struct {
	FS     vfs.FS
	Target string
	Crypt  Crypt
	// Random feeds keyfile contents, crypto/rand unless set.
	Random io.Reader

	enrolled map[string]bool
}

func NewManager(fs vfs.FS, target string, crypt Crypt) *Manager {
	return &Manager{FS: fs, Target: target, Crypt: crypt, Random: rand.Reader}
}

// Result lists what GenerateKeyFiles did.
type Result struct {
	KeyFiles []string
	Enrolled []string
}

// KeyFileFor is where the keyfile of a container lives inside the installed system.
func KeyFileFor(mapper string) string {
	return filepath.Join(constants.KeyFileDir, mapper+".key")
}

// ShouldGenerateKeyFile reports whether e gets a keyfile: it must be one of
// the containers of the topology and must not hold root.
func ShouldGenerateKeyFile(enc *schema.DiskEncryption, e schema.Entity) bool {
	return enc.Encrypts(e) && !e.IsRoot()
}

// GenerateKeyFiles writes keyfiles for the secondary containers and enrolls root
// against the HSM when one is configured. Luks encrypts partitions and LuksOnLvm
// volumes, LvmOnLuks keeps a single passphrase for its physical volumes.
func (m *Manager) GenerateKeyFiles(cfg *schema.DiskLayoutConfiguration) (Result, error) {
	enc := cfg.DiskEncryption
	var entities []schema.Entity

	switch cfg.EncryptionType() {
	case schema.Luks:
		for _, p := range enc.Partitions() {
			entities = append(entities, p)
		}
	case schema.LuksOnLvm:
		for _, v := range enc.Volumes() {
			entities = append(entities, v)
		}
	default:
		internalUtils.Log.Debug().Str("type", string(cfg.EncryptionType())).Msg("No keyfiles for this topology")
		return Result{}, nil
	}

	res := Result{}
	for _, e := range entities {
		switch {
		case ShouldGenerateKeyFile(enc, e):
			path, err := m.createKeyFile(e.DevicePath(), e.Mapper(), enc.Passphrase)
			if err != nil {
				return res, err
			}
			if path != "" {
				res.KeyFiles = append(res.KeyFiles, path)
			}
		case e.IsRoot() && enc.HasHSM() && len(enc.Passphrase) > 0:
			done, err := m.enroll(*enc.HSMDevice, e.DevicePath(), enc.Passphrase)
			if err != nil {
				return res, err
			}
			if done {
				res.Enrolled = append(res.Enrolled, e.DevicePath())
			}
		}
	}
	return res, nil
}

// createKeyFile writes a random keyfile, adds it to the container and registers it in crypttab.
// An existing keyfile means the container was handled before and is left alone, so
// the keyfile is removed again when any later part fails.
func (m *Manager) createKeyFile(dev, mapper string, passphrase []byte) (_ string, err error) {
	log := internalUtils.Log.With().Str("what", dev).Str("mapper", mapper).Logger()
	keyFile := KeyFileFor(mapper)
	path := filepath.Join(m.Target, keyFile)

	if _, err := m.FS.Stat(path); err == nil {
		log.Info().Str("keyfile", keyFile).Msg("Keyfile already present, skipping")
		return "", nil
	}

	dir := filepath.Dir(path)
	if err := vfs.MkdirAll(m.FS, filepath.Dir(dir), 0o755); err != nil {
		return "", err
	}
	if err := vfs.MkdirAll(m.FS, dir, 0o700); err != nil {
		return "", err
	}

	key := make([]byte, constants.KeyFileSize)
	random := m.Random
	if random == nil {
		random = rand.Reader
	}
	if _, err := io.ReadFull(random, key); err != nil {
		return "", err
	}
	if err := m.FS.WriteFile(path, key, 0o400); err != nil {
		return "", err
	}
	defer func() {
		if err == nil {
			return
		}
		if rmErr := m.FS.Remove(path); rmErr != nil {
			log.Warn().Err(rmErr).Str("keyfile", keyFile).Msg("Removing keyfile")
		}
	}()
	// WriteFile honours the umask, so set the mode explicitly.
	if err := m.FS.Chmod(path, 0o400); err != nil {
		return "", err
	}

	raw, err := m.FS.RawPath(path)
	if err != nil {
		return "", err
	}
	if err := m.Crypt.AddKey(dev, passphrase, raw); err != nil {
		return "", err
	}

	id, err := m.Crypt.LuksUUID(dev)
	if err != nil {
		return "", err
	}
	if err := m.appendCrypttab(fmt.Sprintf("%s UUID=%s %s luks,key-slot=%d", mapper, id, keyFile, constants.KeySlot)); err != nil {
		return "", err
	}
	log.Info().Str("keyfile", keyFile).Msg("Keyfile created")
	return keyFile, nil
}

func (m *Manager) appendCrypttab(line string) error {
	path := filepath.Join(m.Target, constants.CrypttabPath)
	if err := vfs.MkdirAll(m.FS, filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := m.FS.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

// enroll binds dev to the token once per manager.
func (m *Manager) enroll(hsm schema.Fido2Device, dev string, passphrase []byte) (bool, error) {
	if m.enrolled == nil {
		m.enrolled = map[string]bool{}
	}
	if m.enrolled[dev] {
		internalUtils.Log.Debug().Str("what", dev).Msg("Already enrolled")
		return false, nil
	}
	internalUtils.Log.Info().Str("what", dev).Str("hsm", hsm.Path).Msg("Enrolling FIDO2 device")
	if err := m.Crypt.EnrollFido2(hsm, dev, passphrase); err != nil {
		return false, err
	}
	m.enrolled[dev] = true
	return true, nil
}
