package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/playsafesec/upgradeboard/internal/models"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export and list upgrade reports",
}

var reportExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a report of the current session",
	Args:  cobra.NoArgs,
	RunE:  runReportExport,
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exported reports",
	Args:  cobra.NoArgs,
	RunE:  runReportList,
}

var reportShowCmd = &cobra.Command{
	Use:   "show [report-id]",
	Short: "Print a report document",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportShow,
}

var reportOutput string

func init() {
	reportCmd.AddCommand(reportExportCmd, reportListCmd, reportShowCmd)

	reportExportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Also write the report to this file ('.' for its default name)")
}

func runReportExport(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/reports", nil)
	if err != nil {
		return err
	}
	var stored models.StoredReport
	if err := json.Unmarshal(resp, &stored); err != nil {
		return err
	}
	fmt.Printf("Exported report %s (%s)\n", stored.Filename, stored.ID)

	if reportOutput == "" {
		return nil
	}
	data, err := apiGet("/reports/" + stored.ID)
	if err != nil {
		return err
	}
	path := reportOutput
	if path == "." {
		path = stored.Filename
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runReportList(cmd *cobra.Command, args []string) error {
	var reports []models.StoredReport
	if err := apiGetJSON("/reports", &reports); err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println("No reports found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tCREATED")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Filename, r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runReportShow(cmd *cobra.Command, args []string) error {
	data, err := apiGet("/reports/" + args[0])
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
