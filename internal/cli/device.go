package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	deviceCmd := &cobra.Command{
		Use:   "device",
		Short: "Choose which audio devices are shown",
		Run:   runDeviceLs,
	}

	selectCmd := &cobra.Command{
		Use:   "select <name>",
		Short: "Select a device seen in the transcript",
		Args:  cobra.ExactArgs(1),
		Run:   runDeviceSelect,
	}

	deselectCmd := &cobra.Command{
		Use:   "deselect <name>",
		Short: "Deselect a device",
		Args:  cobra.ExactArgs(1),
		Run:   runDeviceDeselect,
	}

	deviceCmd.AddCommand(selectCmd, deselectCmd)
	RootCmd.AddCommand(deviceCmd)
}

func runDeviceLs(cmd *cobra.Command, args []string) {
	f, s := openFacade(cmd.Context())
	defer s.Close()

	v := f.View()
	printJSON(map[string][]string{
		"devices":  v.DeviceNames,
		"selected": v.SelectedDevices,
	})
}

func runDeviceSelect(cmd *cobra.Command, args []string) {
	f, s := openFacade(cmd.Context())
	defer s.Close()

	if err := f.SelectDevice(cmd.Context(), args[0]); err != nil {
		exitErr("select device", err)
	}
	printOK()
}

func runDeviceDeselect(cmd *cobra.Command, args []string) {
	f, s := openFacade(cmd.Context())
	defer s.Close()

	if err := f.DeselectDevice(cmd.Context(), args[0]); err != nil {
		exitErr("deselect device", err)
	}
	printOK()
}
