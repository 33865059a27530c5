package main

import (
	"log/slog"
	"os"

	"github.com/hans-pistor/spark-firecracker/cmd/fleetctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
