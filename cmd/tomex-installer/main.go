package main

import "tomex/cmd/tomex-installer/cmd"

func main() {
	cmd.Execute()
}
