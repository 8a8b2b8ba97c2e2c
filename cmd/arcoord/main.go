// Command arcoord runs the AR trigger-to-playback engine.
//
//	arcoord serve                 accept AR runtimes over WebSocket
//	arcoord replay <script>       replay a signal script in virtual time
//	arcoord fences                print every geofence with its boundary polygon
//	arcoord validate [catalog]    check a catalog document
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// BuildVersion can be set at build time via ldflags.
var BuildVersion = "dev"

const usage = `usage: arcoord <command> [flags]

commands:
  serve               accept AR runtime connections
  replay <script>     replay a scripted session and print the report
  fences              list geofences with their EPSG:3857 boundary
  validate [catalog]  validate a catalog document
  version             print the version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch cmd, rest := strings.ToLower(args[0]), args[1:]; cmd {
	case "serve":
		err = serveCmd(ctx, rest, stdout, stderr)
	case "replay":
		err = replayCmd(ctx, rest, stdout, stderr)
	case "fences":
		err = fencesCmd(ctx, rest, stdout, stderr)
	case "validate":
		err = validateCmd(ctx, rest, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "arcoord", BuildVersion)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
