package main

import (
	"fmt"
	"os"

	"github.com/kairos-io/diskcore/internal/cmd"
	"github.com/kairos-io/diskcore/internal/utils"
	"github.com/kairos-io/diskcore/internal/version"
	"github.com/urfave/cli/v2"
)

// Lays out, opens and mounts an install target and makes it bootable.
func main() {
	app := cli.NewApp()
	app.Name = "diskcore"
	app.Usage = "disk layout core of the installer"
	app.Version = version.GetVersion()
	app.Authors = []*cli.Author{{Name: "Kairos authors"}}
	app.Copyright = "kairos authors"
	app.Flags = cmd.Flags
	app.Commands = cmd.Commands
	app.Before = func(c *cli.Context) error {
		utils.SetLogger(c.Bool("debug"))
		v := version.Get()
		utils.Log.Debug().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("diskcore")
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
