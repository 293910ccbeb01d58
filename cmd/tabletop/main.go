// Package main is the tabletop command itself.
package main

import (
	"log"
	"os"

	tabletopcli "go.viam.com/tabletop/cli"
)

func main() {
	app := tabletopcli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
