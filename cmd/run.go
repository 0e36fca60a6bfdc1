package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/jmarten/ssvepd/feed"
	"github.com/jmarten/ssvepd/ingest"
	"github.com/jmarten/ssvepd/rx"
)

var runFlags = struct {
	listenAddress string
	feedAddress   string
	wsAddress     string
}{}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run online detection on sample chunks received over UDP",
	Run:   runWithCtx(runRun),
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.listenAddress, "listen", ":7474", "the UDP address to receive sample frames on")
	runCmd.Flags().StringVar(&runFlags.feedAddress, "feed", "", "serve the decision feed on this TCP address")
	runCmd.Flags().StringVar(&runFlags.wsAddress, "ws", "", "serve the event stream on this websocket address")
}

func runRun(ctx context.Context, cmd *cobra.Command, args []string) {
	session := newSession()
	events := session.Subscribe()
	session.Start()
	defer session.Stop()

	server, err := ingest.NewServer(runFlags.listenAddress, session)
	if err != nil {
		log.Fatal(err)
	}
	defer server.Stop()

	publishers := startFeeds(runFlags.feedAddress, runFlags.wsAddress)
	defer stopFeeds(publishers)
	go publishEvents(events, publishers)

	<-ctx.Done()
}

// publisher consumes detection events, implemented by the feed servers.
type publisher interface {
	Publish(event rx.Event)
	Stop()
}

func startFeeds(feedAddress string, wsAddress string) []publisher {
	var publishers []publisher
	if feedAddress != "" {
		feedServer, err := feed.NewTCPServer(feedAddress, formatVersion())
		if err != nil {
			log.Fatal(err)
		}
		publishers = append(publishers, feedServer)
	}
	if wsAddress != "" {
		wsServer, err := feed.NewWebsocketServer(wsAddress)
		if err != nil {
			log.Fatal(err)
		}
		publishers = append(publishers, wsServer)
	}
	return publishers
}

func stopFeeds(publishers []publisher) {
	for _, p := range publishers {
		p.Stop()
	}
}

func publishEvents(events <-chan rx.Event, publishers []publisher) {
	for event := range events {
		if event.Stable != nil {
			log.Printf("stable decision %gHz (confidence %.2f)", *event.Stable, event.Confidence)
		}
		for _, p := range publishers {
			p.Publish(event)
		}
	}
}
