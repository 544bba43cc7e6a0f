package utils

import (
	"github.com/kairos-io/kairos-sdk/types"
	"github.com/rs/zerolog"
)

// KLog owns the log files, Log is the zerolog view every package writes through.
// Both discard until SetLogger is called.
var (
	KLog = types.NewNullLogger()
	Log  = zerolog.Nop()
)

// SetLogger logs to the console and to the kairos log dirs, /run/kairos and
// /var/log/kairos, so the trail of device operations survives a failed install.
// DISKCORE_DEBUG in the environment also turns on debug.
func SetLogger(debug bool) {
	level := "info"
	if debug {
		level = "debug"
	}
	KLog = types.NewKairosLogger("diskcore", level, false)
	Log = KLog.Logger
}
