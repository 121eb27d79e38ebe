package main

import (
	"github.com/hari1098/snaptalks/cmd"
	"github.com/hari1098/snaptalks/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
