package cmd

import (
	"flag"
	"fmt"
	"io"

	"github.com/offlinefirst/screenloop/pkg/permissions"
)

func newDoctorCommand() command {
	return command{
		name:        "doctor",
		description: "Report capture permission state for this host",
		run:         runDoctor,
	}
}

func runDoctor(fs *flag.FlagSet, args []string, appCtx *AppContext, stdout io.Writer, stderr io.Writer) error {
	probes := []struct {
		name   string
		result permissions.ProbeResult
	}{
		{"screen recording", permissions.ProbeScreenRecording(nil)},
		{"accessibility", permissions.ProbeAccessibility(nil)},
		{"microphone", permissions.ProbeMicrophone(nil)},
		{"camera", permissions.ProbeCamera(nil)},
	}

	fmt.Fprintln(stdout, "Permission probes:")
	for _, probe := range probes {
		fmt.Fprintf(stdout, "  %-17s %-12s %s\n", probe.name, probe.result.StatusString(), probe.result.Message)
		if probe.result.Guidance != "" {
			fmt.Fprintf(stdout, "  %-17s %-12s %s\n", "", "", probe.result.Guidance)
		}
	}

	fmt.Fprintln(stdout, "Capture strategies:")
	chunked := "available"
	if permissions.ProbeScreenRecording(nil).Status == permissions.StatusDenied {
		chunked = "unavailable"
	}
	fmt.Fprintf(stdout, "  %-17s %s\n", "chunked", chunked)
	return nil
}
