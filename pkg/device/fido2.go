package device

import (
	"bufio"
	"strings"

	"github.com/kairos-io/diskcore/pkg/schema"
)

// ListFido2Devices returns the FIDO2 tokens systemd-cryptenroll can see.
func (l *Linux) ListFido2Devices() ([]schema.Fido2Device, error) {
	out, err := l.Runner.RunWithInput(nil, nil, "systemd-cryptenroll", "--fido2-device=list")
	if err != nil {
		return nil, diskErr("list fido2", "", "", err)
	}
	return parseFido2List(out), nil
}

// EnrollFido2 binds dev to the token. This writes to the token and is not repeatable safely.
func (l *Linux) EnrollFido2(hsm schema.Fido2Device, dev string, passphrase []byte) error {
	_, err := l.Runner.RunWithInput(nil, []string{"PASSWORD=" + string(passphrase)}, "systemd-cryptenroll", "--fido2-device="+hsm.Path, dev)
	return diskErr("fido2 enroll", dev, hsm.Path, err)
}

// parseFido2List reads the table printed by systemd-cryptenroll:
//
//	PATH         MANUFACTURER PRODUCT
//	/dev/hidraw1 Yubico       YubiKey OTP+FIDO+CCID
//
// Columns are cut at the header offsets since product names contain spaces.
func parseFido2List(out string) []schema.Fido2Device {
	var devices []schema.Fido2Device
	manufacturerPos, productPos := -1, -1

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if manufacturerPos < 0 {
			manufacturerPos = strings.Index(line, "MANUFACTURER")
			productPos = strings.Index(line, "PRODUCT")
			if manufacturerPos < 0 || productPos < manufacturerPos {
				return nil
			}
			continue
		}
		if len(line) < productPos {
			line += strings.Repeat(" ", productPos-len(line))
		}
		devices = append(devices, schema.Fido2Device{
			Path:         strings.TrimSpace(line[:manufacturerPos]),
			Manufacturer: strings.TrimSpace(line[manufacturerPos:productPos]),
			Product:      strings.TrimSpace(line[productPos:]),
		})
	}
	return devices
}
