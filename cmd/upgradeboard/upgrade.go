package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/playsafesec/upgradeboard/internal/controlplane"
	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/progress"
	"github.com/playsafesec/upgradeboard/internal/workflow"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Control the upgrade session",
}

var upgradeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Dispatch an upgrade and start tracking it",
	RunE:  runUpgradeStart,
}

var upgradeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session and phase progress",
	RunE:  runUpgradeStatus,
}

var (
	startClass   string
	startPackage string
	startServer  string
	startAll     bool
)

// transitionCmd builds a subcommand that posts a session transition.
func transitionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := postTransition(action)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s (%d%%)\n", action, sessionState(view), view.OverallProgress)
			return nil
		},
	}
}

func init() {
	upgradeCmd.AddCommand(
		upgradeStartCmd,
		upgradeStatusCmd,
		transitionCmd("pause", "Pause the running upgrade"),
		transitionCmd("resume", "Resume a paused upgrade"),
		transitionCmd("reset", "Discard the session and start over"),
		transitionCmd("next", "Complete the current phase and advance"),
		transitionCmd("cancel", "Cancel the current workflow run"),
	)

	upgradeStartCmd.Flags().StringVar(&startClass, "class", "", "Host class to upgrade (required)")
	upgradeStartCmd.Flags().StringVar(&startPackage, "package", "", "Package ID to install (required)")
	upgradeStartCmd.Flags().StringVar(&startServer, "server", "", "Server to upgrade in single-server mode")
	upgradeStartCmd.Flags().BoolVar(&startAll, "all", false, "Upgrade every server of the class")
	upgradeStartCmd.MarkFlagRequired("class")
	upgradeStartCmd.MarkFlagRequired("package")
	upgradeStartCmd.MarkFlagsMutuallyExclusive("server", "all")
}

func postTransition(action string) (*controlplane.View, error) {
	return postView("/upgrade/"+action, nil)
}

func postView(path string, data any) (*controlplane.View, error) {
	resp, err := apiPost(path, data)
	if err != nil {
		return nil, err
	}
	var view controlplane.View
	if err := json.Unmarshal(resp, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func runUpgradeStart(cmd *cobra.Command, args []string) error {
	in := workflow.DispatchInputs{
		TargetMode: models.ModeSingleServer,
		HostClass:  startClass,
		ServerName: startServer,
		PackageID:  startPackage,
	}
	if startAll {
		in.TargetMode = models.ModeAllServersInClass
	}
	if err := in.Validate(); err != nil {
		return err
	}

	view, err := postView("/upgrade/start", in)
	if err != nil {
		return err
	}

	target := in.ServerName
	if startAll {
		target = "all servers of " + in.HostClass
	}
	fmt.Printf("Started upgrade of %s to %s (engine: %s)\n", target, in.PackageID, view.Engine)
	if view.EstimatedEndTime != nil {
		fmt.Printf("Estimated completion: %s\n", view.EstimatedEndTime.Local().Format(time.Kitchen))
	}
	return nil
}

func runUpgradeStatus(cmd *cobra.Command, args []string) error {
	var view controlplane.View
	if err := apiGetJSON("/session", &view); err != nil {
		return err
	}

	fmt.Printf("Status:   %s\n", sessionState(&view))
	fmt.Printf("Progress: %d%% (%d/%d phases)\n", view.OverallProgress, view.PhasesCompleted, view.TotalPhases)
	if view.SelectedHostClass != "" {
		fmt.Printf("Target:   %s %s -> %s\n", view.SelectedHostClass, view.SelectedServer, view.SelectedPackage)
	}
	if view.StartTime != nil {
		fmt.Printf("Started:  %s\n", view.StartTime.Local().Format(time.RFC1123))
	}
	if run := view.CurrentWorkflowRun; run != nil {
		fmt.Printf("Run:      #%d %s %s %s\n", run.RunNumber, run.Status, run.Conclusion, run.HTMLURL)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tSTATUS\tPROGRESS\tESTIMATE")
	for i, p := range view.Phases {
		marker := " "
		if view.IsRunning && i == view.CurrentPhaseIndex {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\t%s\t%d%%\t%s\n", marker, p.Name, p.Status, p.Progress, progress.FormatDuration(p.EstimatedDuration))
	}
	return w.Flush()
}

func sessionState(v *controlplane.View) string {
	switch {
	case v.IsRunning && v.IsPaused:
		return "paused"
	case v.IsRunning:
		return "running"
	default:
		return string(v.OverallStatus)
	}
}
