package main

import "github.com/oshokin/carpi-provision/cmd/carpi-installer/cmd"

func main() {
	cmd.Execute()
}
