package main

import (
	"github.com/driftbg/driftbg/internal/cli"
)

func main() {
	cli.Execute()
}
