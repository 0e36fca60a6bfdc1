// Package cmd contains the ssvepd command line interface.
package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmarten/ssvepd/cfg"
	"github.com/jmarten/ssvepd/rx"
	"github.com/jmarten/ssvepd/trace"
)

var (
	version   string = "develop"
	gitCommit string = "-"
	buildTime string = "-"
)

var rootFlags = struct {
	pprof  bool
	debug  bool
	config string

	traceContext     string
	traceDestination string
}{}

var rootCmd = &cobra.Command{
	Use:   "ssvepd",
	Short: "ssvepd - classify SSVEP stimulation frequencies in a real-time EEG stream",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&rootFlags.pprof, "pprof", false, "enable pprof")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&rootFlags.config, "config", "", "the configuration file")
	rootCmd.PersistentFlags().StringVar(&rootFlags.traceContext, "trace", "", "scores | votes")
	rootCmd.PersistentFlags().StringVar(&rootFlags.traceDestination, "trace_to", "", "file:<filename> | udp:<host:port>")

	rootCmd.PersistentFlags().MarkHidden("pprof")
}

func runWithCtx(f func(ctx context.Context, cmd *cobra.Command, args []string)) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if !rootFlags.debug {
			log.SetOutput(&nopWriter{})
		}

		log.Printf("ssvepd Version %s", formatVersion())

		if rootFlags.pprof {
			go func() {
				log.Printf("starting pprof on http://localhost:6060/debug/pprof")
				log.Println(http.ListenAndServe("localhost:6060", nil))
			}()
		}

		ctx, cancel := context.WithCancel(context.Background())
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		go handleCancelation(signals, cancel)

		f(ctx, cmd, args)
	}
}

// newSession builds a session from the configuration file and attaches the
// tracer, if one is requested.
func newSession() *rx.Session {
	settings, err := cfg.Load(rootFlags.config)
	if err != nil {
		log.Fatal(err)
	}

	session, err := rx.NewSession(settings.SessionConfig(), nil)
	if err != nil {
		log.Fatal(err)
	}

	tracer, ok := createTracer()
	if ok {
		session.SetTracer(tracer)
	}

	return session
}

func createTracer() (trace.Tracer, bool) {
	if rootFlags.traceDestination == "" {
		return nil, false
	}

	protocol, destination, found := strings.Cut(rootFlags.traceDestination, ":")
	if !found {
		log.Printf("invalid trace destination %q", rootFlags.traceDestination)
		return nil, false
	}

	switch strings.ToLower(protocol) {
	case "file":
		return trace.NewFileTracer(rootFlags.traceContext, destination), true
	case "udp":
		return trace.NewUDPTracer(rootFlags.traceContext, destination), true
	default:
		log.Printf("unknown trace destination %q", rootFlags.traceDestination)
		return nil, false
	}
}

func formatVersion() string {
	if gitCommit == "-" && buildTime == "-" {
		return version
	}
	return fmt.Sprintf("%s_%s_%s", version, gitCommit, buildTime)
}

func handleCancelation(signals <-chan os.Signal, cancel context.CancelFunc) {
	count := 0
	for range signals {
		count++
		if count == 1 {
			cancel()
		} else {
			log.Fatal("hard shutdown")
		}
	}
}

type nopWriter struct{}

func (w *nopWriter) Write(p []byte) (n int, err error) { return len(p), nil }
