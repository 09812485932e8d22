package main

import (
	"os"

	"github.com/censys/scandiff/cmd/scandiff/commands"
)

func main() {
	os.Exit(commands.Execute(os.Args[1:], os.Stderr))
}
