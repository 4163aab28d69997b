package main

import "github.com/oshokin/carpi-provision/cmd/carpi-updater/cmd"

func main() {
	cmd.Execute()
}
