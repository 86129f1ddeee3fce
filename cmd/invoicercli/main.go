package main

import (
	"fmt"
	"os"

	"github.com/fuentelabs/invoicer/build"
	"github.com/fuentelabs/invoicer/monitoring"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[invoicercli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "invoicercli"
	app.Version = build.FullVersion()
	app.Usage = "operator tool for the order settlement daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "statusserver",
			Value: monitoring.DefaultListen,
			Usage: "The host:port of the daemon's status server.",
		},
		cli.StringFlag{
			Name: "socksproxy",
			Usage: "The host:port of a SOCKS proxy through " +
				"which relays are reached.",
		},
	}
	app.Commands = []cli.Command{
		genKeyCommand,
		pubKeyCommand,
		adminRequestCommand,
		orderCommand,
		interventionsCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
