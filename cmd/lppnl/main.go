package main

import (
	"lp-pnl/internal/cli"
)

func main() {
	cli.Execute()
}
