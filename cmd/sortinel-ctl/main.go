// sortinel-ctl is the command-line control tool for the daemon: it reads
// the status file and writes commands to the command file.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sortinel/sortinel/internal/ipc"
)

func main() {
	cmd := "status"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "status":
		printStatus()

	case "rescan", "end-session", "pause", "auto", "quit":
		if err := ipc.WriteCommand(ipc.Command(cmd)); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sent: %s\n", cmd)

	case "help", "-h", "--help":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println(`usage: sortinel-ctl [command]

commands:
  status       print the daemon state (default)
  rescan       force an immediate window scan
  end-session  end the active session now
  pause        suspend classification
  auto         resume automatic classification
  quit         shut the daemon down`)
}

func printStatus() {
	status, err := ipc.ReadStatus()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("daemon not running (no status file)")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	age := time.Since(status.Timestamp).Round(time.Second)
	fmt.Printf("mode:            %s (as of %s ago)\n", status.Mode, age)
	fmt.Printf("tracked windows: %d\n", status.TrackedWindows)

	if status.LastResult != nil {
		r := status.LastResult
		fmt.Printf("last detection:  %q (confidence %.2f", r.DetectedContext, r.OverallConfidence)
		if r.BoostApplied {
			fmt.Printf(", session boost: %s", r.BoostReason)
		}
		fmt.Println(")")
	} else {
		fmt.Println("last detection:  none")
	}

	if s := status.ActiveSession; s != nil {
		fmt.Printf("active session:  %q (%d files, started %s ago)\n",
			s.GroupName, s.FileCount, time.Since(s.StartTime).Round(time.Second))
	} else {
		fmt.Println("active session:  none")
	}

	if status.Burst.IsActive {
		fmt.Printf("burst:           active (%d files, confidence %.2f)\n",
			status.Burst.FileCount, status.Burst.Confidence)
	} else {
		fmt.Println("burst:           inactive")
	}

	fmt.Printf("detections:      %d total, %d with consensus, %d boosted, avg %.1fms\n",
		status.Stats.TotalDetections,
		status.Stats.ConsensusDetections,
		status.Stats.SessionBoostCount,
		status.Stats.AverageDetectionTimeMs)

	if status.LastError != "" {
		fmt.Printf("last error:      %s\n", status.LastError)
	}
}
