package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/volume"
	"github.com/spf13/cobra"
)

func newDrivesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drives",
		Short: "Print the drive letter table as seen by the volume probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			letters := volume.NewLetterAllocator(a.cfg.Volumes.Letters, a.cfg.Volumes.RemovableRoots)
			drives, err := volume.NewLinuxProbe(letters).Drives(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DRIVE\tTYPE\tREADY\tROOT\tDEVICE")
			for idx := 0; idx < 26; idx++ {
				letter := model.DriveLetter(idx)
				info, ok := drives[letter]
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%c:\t%s\t%t\t%s\t%s\n", letter, info.Type, info.Ready, info.Root, info.Device)
			}
			return w.Flush()
		},
	}
}
