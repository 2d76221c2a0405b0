package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rostergate/rostergate/util"
	"github.com/spf13/cobra"
)

var (
	envFile   string
	teamFlag  string
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "rostergate",
	Short: "Rostergate admits chat messages for a team admin bot",
	Long: `Rostergate links chat accounts to the team roster with signed invitations
and decides which bot actions every message may reach.
Source code is available at https://github.com/rostergate/rostergate.
Complete documentation is available at https://github.com/rostergate/rostergate#readme.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := util.ConfigInit(envFile); err != nil {
			return err
		}

		closer, err := util.ConfigureLogging(util.Config.Log)
		if err != nil {
			return err
		}
		logCloser = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
		os.Exit(0)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "config", "", "Dotenv file with ROSTERGATE_ settings")
	rootCmd.PersistentFlags().StringVar(&teamFlag, "team", "", "Team id, defaults to ROSTERGATE_TEAM_ID")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func currentTeam() (string, error) {
	team := teamFlag
	if team == "" {
		team = util.Config.TeamID
	}
	if team == "" {
		return "", fmt.Errorf("no team selected; pass --team or set %sTEAM_ID", util.EnvPrefix)
	}
	return team, nil
}
