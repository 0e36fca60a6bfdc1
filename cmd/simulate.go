package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmarten/ssvepd/synth"
)

var simulateFlags = struct {
	amplitude     float64
	seed          int64
	chunkInterval time.Duration
	cycle         time.Duration
}{}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "run the detection pipeline on a synthetic SSVEP stream",
	Run:   runWithCtx(runSimulate),
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().Float64Var(&simulateFlags.amplitude, "amplitude", 2, "the stimulation amplitude relative to the background noise")
	simulateCmd.Flags().Int64Var(&simulateFlags.seed, "seed", 1, "the random seed of the synthetic stream")
	simulateCmd.Flags().DurationVar(&simulateFlags.chunkInterval, "chunk", 40*time.Millisecond, "the chunk interval of the synthetic producer")
	simulateCmd.Flags().DurationVar(&simulateFlags.cycle, "cycle", 10*time.Second, "switch to the next target frequency after this duration, 0 keeps the first")
}

func runSimulate(ctx context.Context, cmd *cobra.Command, args []string) {
	session := newSession()
	config := session.Config()

	generator, err := synth.NewGenerator(config.SampleRate, config.ChannelCount, simulateFlags.amplitude, simulateFlags.seed)
	if err != nil {
		log.Fatal(err)
	}

	frequencies := session.Targets().Frequencies()
	generator.SetFrequency(frequencies[0])
	fmt.Printf("stimulating %gHz\n", frequencies[0])

	events := session.Subscribe()
	session.Start()
	defer session.Stop()

	go func() {
		err := generator.Stream(ctx, session, simulateFlags.chunkInterval)
		if err != nil && ctx.Err() == nil {
			log.Printf("synthetic stream stopped: %v", err)
		}
	}()

	if simulateFlags.cycle > 0 {
		go cycleFrequencies(ctx, generator, frequencies, simulateFlags.cycle)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if event.Stable != nil {
				fmt.Printf("stable decision %gHz (stimulating %gHz, confidence %.2f)\n", *event.Stable, generator.Frequency(), event.Confidence)
			}
		}
	}
}

func cycleFrequencies(ctx context.Context, generator *synth.Generator, frequencies []float64, cycle time.Duration) {
	ticker := time.NewTicker(cycle)
	defer ticker.Stop()
	index := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			index = (index + 1) % len(frequencies)
			generator.SetFrequency(frequencies[index])
			fmt.Printf("stimulating %gHz\n", frequencies[index])
		}
	}
}
