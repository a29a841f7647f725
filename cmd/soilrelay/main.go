package main

import (
	"fmt"
	"os"

	"github.com/agroiotec/soilrelay/cmd/soilrelay/coordinator"
	"github.com/agroiotec/soilrelay/cmd/soilrelay/router"
	"github.com/agroiotec/soilrelay/cmd/soilrelay/subcmd"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var BuildVersion string = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	router.Mod,
	coordinator.Mod,
}

func main() {
	log := log2.NewStderr(log2.LInfo)
	log.SetFlags(log2.LInteractiveFlags)
	if subcmd.SdNotify("start") || !isatty.IsTerminal(os.Stderr.Fd()) {
		// we're under systemd or other supervisor, assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	}

	env := &subcmd.Env{BuildVersion: BuildVersion, Log: log}
	root := &cobra.Command{
		Use:           "soilrelay",
		Short:         "Soil moisture telemetry relay: serial probe to radio to database",
		Version:       BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&env.ConfigPath, "config", "c", "soilrelay.hcl", "config file path")
	for _, m := range modules {
		root.AddCommand(m.Command(env))
	}
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), BuildVersion)
		},
	})

	if err := root.Execute(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
