package device

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	internalUtils "github.com/kairos-io/diskcore/internal/utils"
	"github.com/kairos-io/kairos-sdk/utils"
)

// Runner executes the device tooling.
type Runner interface {
	// Run executes a command line through the shell and returns its combined output.
	Run(command string) (string, error)
	// RunWithInput feeds input on stdin, for tools that read secrets there.
	RunWithInput(input []byte, env []string, name string, args ...string) (string, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(command string) (string, error) {
	internalUtils.Log.Debug().Str("cmd", command).Msg("Running")
	return utils.SH(command)
}

func (ExecRunner) RunWithInput(input []byte, env []string, name string, args ...string) (string, error) {
	internalUtils.Log.Debug().Str("cmd", name).Strs("args", args).Msg("Running")
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), env...)
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
