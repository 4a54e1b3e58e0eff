package main

import "ptzserver/cmd/cli/command"

func main() {
	command.Execute()
}
