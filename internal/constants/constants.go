package constants

import "errors"

var (
	// ErrConfiguration is returned when the layout description is inconsistent.
	ErrConfiguration = errors.New("configuration error")
	// ErrHardwareIncompatible is returned when the platform lacks a capability the request needs.
	ErrHardwareIncompatible = errors.New("hardware incompatible")
	// ErrDisk wraps every failure reported by the device layer.
	ErrDisk             = errors.New("disk error")
	ErrUnimplemented    = errors.New("not implemented")
	ErrAlreadyMounted   = errors.New("already mounted")
	ErrNoUnlockedDevice = errors.New("no unlocked device")
)

const (
	OpValidateLayout   = "validate-layout"
	OpUnlockLuks       = "unlock-luks"
	OpImportLvm        = "import-lvm"
	OpUnlockLuksOnLvm  = "unlock-luks-on-lvm"
	OpMountLvm         = "mount-lvm"
	OpMountPartitions  = "mount-partitions"
	OpWriteFstab       = "write-fstab"
	OpGenerateKeyFiles = "generate-keyfiles"
	OpAddBootloader    = "add-bootloader"

	DefaultTarget = "/mnt"
	DefaultEnv    = "/run/diskcore.env"

	KeyFileDir     = "/etc/cryptsetup-keys.d"
	CrypttabPath   = "/etc/crypttab"
	FstabPath      = "/etc/fstab"
	KernelCmdline  = "/etc/kernel/cmdline"
	EFIFirmwareDir = "/sys/firmware/efi"

	KeyFileSize = 512
	KeySlot     = 1

	RootMapper     = "root"
	CryptLvmMapper = "cryptlvm"
)
