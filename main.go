package main

import "github.com/kozaktomas/faceinbox/cmd"

func main() {
	cmd.Execute()
}
