package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmarten/ssvepd/ingest"
	"github.com/jmarten/ssvepd/rx"
)

var calibrateFlags = struct {
	listenAddress string
	baseline      time.Duration
	perTarget     time.Duration
	topChannels   int
}{}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "run the calibration phases on sample chunks received over UDP",
	Long: `Run the calibration phases on sample chunks received over UDP.

The subject rests during the baseline phase, then attends to each stimulus
in turn as the phases are announced. The derived channel subset and score
threshold are printed when all phases are done.`,
	Run: runWithCtx(runCalibrate),
}

func init() {
	rootCmd.AddCommand(calibrateCmd)

	calibrateCmd.Flags().StringVar(&calibrateFlags.listenAddress, "listen", ":7474", "the UDP address to receive sample frames on")
	calibrateCmd.Flags().DurationVar(&calibrateFlags.baseline, "baseline", 5*time.Second, "the duration of the rest phase")
	calibrateCmd.Flags().DurationVar(&calibrateFlags.perTarget, "per_target", 10*time.Second, "the duration of each stimulated phase")
	calibrateCmd.Flags().IntVar(&calibrateFlags.topChannels, "channels", 3, "the size of the selected channel subset")
}

func runCalibrate(ctx context.Context, cmd *cobra.Command, args []string) {
	session := newSession()

	server, err := ingest.NewServer(calibrateFlags.listenAddress, session)
	if err != nil {
		log.Fatal(err)
	}
	defer server.Stop()

	controller := rx.NewCalibrationController(session)
	controller.BaselineSeconds = calibrateFlags.baseline.Seconds()
	controller.SecondsPerTarget = calibrateFlags.perTarget.Seconds()
	controller.TopChannels = calibrateFlags.topChannels
	controller.OnPhase = func(label string, duration time.Duration) {
		fmt.Printf("phase %q for %v\n", label, duration)
	}

	result, err := controller.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("noise floor: %.3f\n", result.NoiseFloor)
	fmt.Printf("channels:    %v\n", result.Channels)
	fmt.Printf("threshold:   %.3f\n", result.Threshold)
	for _, frequency := range session.Targets().Frequencies() {
		fmt.Printf("%gHz: %d training segments\n", frequency, len(result.Training[frequency]))
	}
}
