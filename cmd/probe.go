package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/andresmejia3/vigil/internal/capture/cvcam"
	"github.com/andresmejia3/vigil/internal/display/cvwindow"
	"github.com/andresmejia3/vigil/internal/input"
	"github.com/andresmejia3/vigil/internal/probe"
	"github.com/andresmejia3/vigil/internal/probe/devices"
	"github.com/andresmejia3/vigil/internal/scheduler"
	"github.com/andresmejia3/vigil/internal/session"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	probeIndices int
	probeLive    bool
	probeDevices bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Diagnose camera access: permissions, working indices, media devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		if probeIndices < 1 {
			return errors.Errorf("indices must be >= 1, got %d", probeIndices)
		}
		ctx := cmd.Context()

		r := probe.Report{
			System:      probe.SystemInfo(cvcam.Version),
			Permissions: probe.CheckPermissions(probe.DefaultEnv()),
			Cameras:     probe.ScanIndices(ctx, probeIndices, cvcam.Probe, os.Stderr),
		}
		if probeDevices {
			r.Devices = devices.Discover(devices.VideoDrivers, Logger.Named("devices"))
		}
		fmt.Fprintln(os.Stderr)
		probe.Print(os.Stdout, r)

		if !probeLive {
			return nil
		}
		index, ok := probe.FirstWorking(r.Cameras)
		if !ok {
			return errors.New("no working camera to preview")
		}

		fmt.Fprintf(os.Stderr, "\n🎥 Previewing camera %d, press Q or ESC in the window to quit\n", index)
		win := cvwindow.New(fmt.Sprintf("vigil probe - camera %d", index))
		sess := &session.Session{
			Source:    cvcam.New(strconv.Itoa(index), 0, 0),
			Surface:   win,
			Input:     input.Merge(ctx, win.Events()),
			Evaluator: scheduler.PassThroughEvaluator{},
			Clock:     clock.New(),
			Logger:    Logger,
			Metrics:   Metrics,
			Caption:   "Press Q to quit",
		}
		sum, err := sess.Run(ctx)
		fmt.Fprintf(os.Stderr, "✓ Preview ended (%s) after %d frames\n", sum.Reason, sum.Frames)
		return err
	},
}

func init() {
	probeCmd.Flags().IntVar(&probeIndices, "indices", 5, "Number of camera indices to try, starting at 0")
	probeCmd.Flags().BoolVar(&probeLive, "live", false, "Preview the first working camera (no analysis)")
	probeCmd.Flags().BoolVar(&probeDevices, "devices", true, "Also enumerate media devices")
	rootCmd.AddCommand(probeCmd)
}
