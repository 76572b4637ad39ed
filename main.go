package main

import (
	"github.com/BioHazard786/slotmesh/cmd"
	"github.com/BioHazard786/slotmesh/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
