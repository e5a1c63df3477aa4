package main

import (
	"github.com/nsmryan/ccsds-router/cmd"
)

func main() {
	cmd.Execute()
}
