package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hans-pistor/spark-firecracker/cmd/fleetctl/lib"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the VMs a fleetd instance is managing",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := lib.New(host, port)
			body, err := client.ListVMs()
			if err != nil {
				return err
			}
			var ids []string
			if err := json.Unmarshal([]byte(body), &ids); err != nil {
				return fmt.Errorf("decode fleetd response: %w", err)
			}
			lib.PrintVMIds("VMs", ids)
			return nil
		},
	}
}

func newCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new VM",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := lib.New(host, port)
			body, err := client.CreateVM()
			if err != nil {
				return err
			}
			fmt.Println(body)
			return nil
		},
	}
}

func newExecCommand() *cobra.Command {
	var vmID string
	cmd := &cobra.Command{
		Use:   "exec [ping|shutdown|get-dmesg|snapshot]",
		Short: "Run an action against a VM's guest agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := lib.New(host, port)
			body, err := client.ExecuteAction(vmID, args[0])
			if err != nil {
				return err
			}
			fmt.Println(body)
			return nil
		},
	}
	cmd.Flags().StringVar(&vmID, "vm-id", "", "id of the VM to act on")
	cmd.MarkFlagRequired("vm-id")
	return cmd
}
