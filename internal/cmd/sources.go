package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/offlinefirst/screenloop/pkg/bridge"
)

func newSourcesCommand() command {
	return command{
		name:        "sources",
		description: "List capturable sources and displays",
		run:         runSources,
	}
}

func runSources(fs *flag.FlagSet, args []string, appCtx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if appCtx == nil {
		return fmt.Errorf("application context unavailable")
	}

	platform, err := bridge.NewSynthetic(bridge.SyntheticOptions{Dir: appCtx.Config.Paths.ScratchDir})
	if err != nil {
		return fmt.Errorf("initialise platform bridge: %w", err)
	}

	ctx := context.Background()
	displays, err := platform.Displays(ctx)
	if err != nil {
		return fmt.Errorf("enumerate displays: %w", err)
	}
	sources, err := platform.DesktopSources(ctx)
	if err != nil {
		return fmt.Errorf("enumerate sources: %w", err)
	}

	fmt.Fprintln(stdout, "Displays:")
	for _, d := range displays {
		fmt.Fprintf(stdout, "  %-12s %.0fx%.0f at (%.0f,%.0f) scale=%.1f\n",
			d.ID, d.Bounds.Width, d.Bounds.Height, d.Bounds.X, d.Bounds.Y, d.ScaleFactor)
	}
	fmt.Fprintln(stdout, "Sources:")
	for _, s := range sources {
		fmt.Fprintf(stdout, "  %-18s kind=%-7s %s\n", s.ID, s.Kind, s.Name)
	}
	return nil
}
