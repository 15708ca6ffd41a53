package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/castboard/castboard/internal/device"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage display devices",
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		defer a.save() //nolint:errcheck // a failed save only costs a later refresh

		devices, err := a.client.ListDevices(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No devices registered.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tSTATUS\tLAST SEEN")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Code, d.Status, d.LastSeen.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var devicesRegisterCmd = &cobra.Command{
	Use:   "register CODE",
	Short: "Register a device code to your account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.save() //nolint:errcheck // a failed save only costs a later refresh

		result, err := a.client.RegisterDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("%s", result.Message)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], result.Message)
		return nil
	},
}

var devicesStatusCmd = &cobra.Command{
	Use:       "status CODE online|offline",
	Short:     "Set a device's status",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(device.StatusOnline), string(device.StatusOffline)},
	RunE: func(cmd *cobra.Command, args []string) error {
		status := device.Status(args[1])
		if !status.Valid() {
			return fmt.Errorf("invalid status %q: want online or offline", args[1])
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		defer a.save() //nolint:errcheck // a failed save only costs a later refresh

		return a.client.SetDeviceStatus(cmd.Context(), args[0], status)
	},
}

var devicesLogoutCmd = &cobra.Command{
	Use:   "logout CODE",
	Short: "Mark a device offline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		defer a.save() //nolint:errcheck // a failed save only costs a later refresh

		return a.client.LogoutDevice(cmd.Context(), args[0])
	},
}

func init() {
	devicesCmd.AddCommand(devicesListCmd, devicesRegisterCmd, devicesStatusCmd, devicesLogoutCmd)
}
