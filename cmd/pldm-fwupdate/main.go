package main

import (
	"os"

	"cloupeer.io/pldmfwupdate/cmd/pldm-fwupdate/app"
)

func main() {
	if err := app.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
