package main

import "github.com/aussiebroadwan/crudlink/internal/cli"

func main() {
	cli.Execute()
}
