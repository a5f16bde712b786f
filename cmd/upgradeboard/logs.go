package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/playsafesec/upgradeboard/internal/controlplane"
	"github.com/playsafesec/upgradeboard/internal/logparse"
	"github.com/playsafesec/upgradeboard/internal/models"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show session logs",
	Args:  cobra.NoArgs,
	RunE:  runLogs,
}

var logsParseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse a raw workflow log file offline",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogsParse,
}

var (
	logLevel  string
	logPhase  string
	logServer string
	logSearch string
	logOutput string
)

func init() {
	logsCmd.AddCommand(logsParseCmd)

	logsCmd.PersistentFlags().StringVar(&logLevel, "level", "", "Filter by level (info, success, warning, error)")
	logsCmd.PersistentFlags().StringVar(&logPhase, "phase", "", "Filter by phase ID")
	logsCmd.PersistentFlags().StringVar(&logServer, "server", "", "Filter by server name")
	logsCmd.PersistentFlags().StringVar(&logSearch, "search", "", "Filter by message text")
	logsCmd.Flags().StringVarP(&logOutput, "output", "o", "", "Write the filtered logs as text to a file")
}

func logsQueryString() string {
	v := url.Values{}
	for key, val := range map[string]string{"level": logLevel, "phase": logPhase, "server": logServer, "q": logSearch} {
		if val != "" {
			v.Set(key, val)
		}
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func runLogs(cmd *cobra.Command, args []string) error {
	if logOutput != "" {
		body, err := apiGet("/logs/download" + logsQueryString())
		if err != nil {
			return err
		}
		if err := os.WriteFile(logOutput, body, 0o644); err != nil {
			return err
		}
		fmt.Printf("Wrote logs to %s\n", logOutput)
		return nil
	}

	var res controlplane.LogsResult
	if err := apiGetJSON("/logs"+logsQueryString(), &res); err != nil {
		return err
	}
	if len(res.Entries) == 0 {
		fmt.Println("No logs found")
		return nil
	}
	fmt.Print(logparse.FormatText(res.Entries))
	fmt.Printf("\n%d entries (info %d, success %d, warning %d, error %d)\n", len(res.Entries),
		res.Counts[models.LevelInfo], res.Counts[models.LevelSuccess],
		res.Counts[models.LevelWarning], res.Counts[models.LevelError])
	return nil
}

func runLogsParse(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	q := logparse.Query{
		Level:  models.LogLevel(logLevel),
		Phase:  logPhase,
		Server: logServer,
		Text:   logSearch,
	}
	entries := logparse.Filter(logparse.ParseAll(string(data)), q)
	fmt.Print(logparse.FormatText(entries))
	return nil
}
