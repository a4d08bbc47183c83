package cmd

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nfrund/backplane/internal/app"
	"github.com/nfrund/backplane/internal/config"
	"github.com/nfrund/backplane/internal/process"
	"github.com/nfrund/backplane/internal/script"
)

var (
	runConfigFlag  string
	runScriptFlag  string
	runTimeoutFlag = script.DefaultTimeout
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scripted process",
	Long: `Run a process described by a YAML file whose messages are handled by a Tengo script.

The process file names the process, the bus address and the topics:

  process_name: shouter
  address: ws://localhost:8080/bus
  topics: [quiet]

Changes to the topic list are applied while the process runs. When the file
lists no topics, the comma separated $BACKPLANE_TOPICS are used instead.
See the script package documentation for the globals a script can use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		fs := afero.NewOsFs()
		procCfg, err := config.LoadFile(fs, runConfigFlag)
		if err != nil {
			return err
		}
		source, err := afero.ReadFile(fs, runScriptFlag)
		if err != nil {
			return err
		}

		if addressFlag != "" {
			procCfg.Address = addressFlag
		}
		cfg := loadConfig(procCfg.ProcessName)
		// $BACKPLANE_TOPICS stands in for a topic list the file leaves out.
		envTopics := cfg.Process.Topics
		procCfg = procCfg.WithDefaultTopics(envTopics)
		cfg.Process = procCfg
		injector := app.New(cfg)
		defer injector.Shutdown()

		client, err := app.NewClient(injector, procCfg.ProcessName)
		if err != nil {
			return err
		}
		handler, err := script.NewHandler(runScriptFlag, source, client, script.WithTimeout(runTimeoutFlag))
		if err != nil {
			_ = client.Close()
			return err
		}
		proc, err := process.New(ctx, procCfg, client, handler)
		if err != nil {
			return err
		}
		defer proc.Close()
		proc.SetDefaultTopics(envTopics)

		go func() {
			if err := proc.WatchConfig(ctx, fs, runConfigFlag); err != nil {
				cmd.PrintErrln("config watch stopped:", err)
			}
		}()
		return ignoreCanceled(proc.ReceiveLoop(ctx))
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "", "process YAML file")
	runCmd.Flags().StringVarP(&runScriptFlag, "script", "s", "", "Tengo script handling each message")
	runCmd.Flags().DurationVar(&runTimeoutFlag, "timeout", script.DefaultTimeout, "longest a single script run may take")
	_ = runCmd.MarkFlagRequired("config")
	_ = runCmd.MarkFlagRequired("script")
	rootCmd.AddCommand(runCmd)
}
