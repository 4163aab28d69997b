package main

import "github.com/oshokin/carpi-provision/cmd/carpi-uninstaller/cmd"

func main() {
	cmd.Execute()
}
