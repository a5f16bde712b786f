package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/playsafesec/upgradeboard/internal/controlplane"
	"github.com/playsafesec/upgradeboard/internal/models"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Browse archived workflow runs",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived runs",
	Args:  cobra.NoArgs,
	RunE:  runArchiveList,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail of dashboard actions",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

var (
	archiveStatus string
	archiveQuery  string
	auditLimit    int
)

func init() {
	archiveCmd.AddCommand(archiveListCmd)

	archiveListCmd.Flags().StringVar(&archiveStatus, "status", "", "Filter by status (success, failure, in_progress)")
	archiveListCmd.Flags().StringVar(&archiveQuery, "q", "", "Search run ID, package, server or host class")

	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Number of entries to show")
}

func runArchiveList(cmd *cobra.Command, args []string) error {
	v := url.Values{}
	if archiveStatus != "" {
		v.Set("status", archiveStatus)
	}
	if archiveQuery != "" {
		v.Set("q", archiveQuery)
	}
	path := "/archive"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var res controlplane.ArchiveResult
	if err := apiGetJSON(path, &res); err != nil {
		return err
	}

	fmt.Printf("Total %d  successful %d  failed %d  in progress %d\n\n",
		res.Stats.Total, res.Stats.Successful, res.Stats.Failed, res.Stats.InProgress)
	if len(res.Runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tWORKFLOW\tSTATUS\tSTARTED\tPACKAGE\tHOST CLASS")
	for _, r := range res.Runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.WorkflowName, r.Status, r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Inputs["package_id"], r.Inputs["host_class"])
	}
	return w.Flush()
}

func runAudit(cmd *cobra.Command, args []string) error {
	var entries []models.PDREntry
	if err := apiGetJSON("/audit?limit="+strconv.Itoa(auditLimit), &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No audit entries")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime), e.Action, e.Outcome, e.Details)
	}
	return w.Flush()
}
