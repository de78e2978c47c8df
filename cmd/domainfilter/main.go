package main

import "github.com/Control-D-Inc/domainfilter/cmd/cli"

func main() {
	cli.Main()
}
