package main

import (
	"os"

	"sciserver-casjobs/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
