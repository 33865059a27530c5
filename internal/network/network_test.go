package network

import (
	"testing"

	"github.com/hans-pistor/spark-firecracker/internal/cmdrunner"
)

func TestCreateRejectsOutOfRangeVMID(t *testing.T) {
	runner := cmdrunner.New(nil)
	if _, err := Create(runner, nil, -1, "ens33"); err == nil {
		t.Fatalf("expected an error for a negative vm id")
	}
	if _, err := Create(runner, nil, maxVMsPerHost, "ens33"); err == nil {
		t.Fatalf("expected an error for a vm id at the host limit")
	}
}
