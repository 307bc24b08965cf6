// Package cli implements charswapctl, the operator command line for a
// charswap server.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultServer is used when no server is configured.
const DefaultServer = "http://localhost:8080"

// Output formats.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// app carries the resolved settings shared by every command.
type app struct {
	v   *viper.Viper
	out io.Writer
}

// NewRootCommand builds the command tree. Settings resolve in order: flag,
// CHARSWAP_* environment variable, config file, default.
func NewRootCommand(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}
	var cfgFile string

	root := &cobra.Command{
		Use:           "charswapctl",
		Short:         "Operate a charswap server",
		Long:          `charswapctl queues clip batches, reports worker status, stops the queue and triggers stitching on a charswap server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cfgFile)
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.charswap/config.yaml)")
	flags.String("server", DefaultServer, "charswap server URL")
	flags.StringP("output", "o", outputTable, "output format: table, json or yaml")
	flags.Duration("timeout", 35*time.Minute, "request timeout")
	_ = a.v.BindPFlag("server", flags.Lookup("server"))
	_ = a.v.BindPFlag("output", flags.Lookup("output"))
	_ = a.v.BindPFlag("timeout", flags.Lookup("timeout"))

	root.AddCommand(
		newEnqueueCommand(a),
		newStatusCommand(a),
		newStopCommand(a),
		newStitchCommand(a),
		newClipsCommand(a),
		newUnitsCommand(a),
		newProjectsCommand(a),
		newResetCommand(a),
	)
	return root
}

// Execute runs charswapctl against os.Args.
func Execute() error {
	return NewRootCommand(os.Stdout).Execute()
}

func (a *app) loadConfig(cfgFile string) error {
	a.v.SetEnvPrefix("charswap")
	a.v.AutomaticEnv()

	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		a.v.AddConfigPath(filepath.Join(home, ".charswap"))
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	switch a.output() {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q", a.output())
	}
}

func (a *app) output() string {
	return a.v.GetString("output")
}

func (a *app) client() *apiClient {
	return newAPIClient(a.v.GetString("server"), &http.Client{Timeout: a.v.GetDuration("timeout")})
}

// render prints v as JSON or YAML, or calls table for the table format.
func (a *app) render(v any, table func(t *tablewriter.Table)) error {
	switch a.output() {
	case outputJSON:
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		// Round-trip through JSON so YAML keys match the API field names.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(a.out)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		t := tablewriter.NewWriter(a.out)
		table(t)
		return t.Render()
	}
}
