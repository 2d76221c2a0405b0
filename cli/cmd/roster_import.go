package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rostergate/rostergate/services/roster"
	"github.com/rostergate/rostergate/util"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rosterImportArgs struct {
	dir    string
	file   string
	invite bool
}

var targetRosterImportArgs rosterImportArgs

var rosterExportFile string

func init() {
	rosterImportCmd.PersistentFlags().StringVar(&targetRosterImportArgs.dir, "dir", "", "Directory path with roster backups to import")
	rosterImportCmd.PersistentFlags().StringVar(&targetRosterImportArgs.file, "file", "", "Backup file path to import")
	rosterImportCmd.PersistentFlags().BoolVar(&targetRosterImportArgs.invite, "invite", false, "Create an invitation for every imported record")
	rosterCmd.AddCommand(rosterImportCmd)

	rosterExportCmd.Flags().StringVar(&rosterExportFile, "file", "", "Write the backup to this file instead of stdout")
	rosterCmd.AddCommand(rosterExportCmd)
}

var rosterImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import roster backup(s)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if targetRosterImportArgs.dir == "" && targetRosterImportArgs.file == "" {
			return fmt.Errorf("argument --dir or --file required")
		}
		if targetRosterImportArgs.dir != "" && targetRosterImportArgs.file != "" {
			return fmt.Errorf("only one of --dir or --file can be specified")
		}

		files, err := backupFiles(targetRosterImportArgs)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no backup files found to import")
		}

		a, err := newApp(util.Config, util.Config.Telegram.BotUsername)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		okCount := 0
		for _, f := range files {
			n, err := importRosterFromFile(cmd, a, f)
			if err != nil {
				log.Errorf("failed to import %s: %v", f, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d record(s) from %s\n", n, f)
			okCount++
		}

		if okCount == 0 {
			return fmt.Errorf("nothing was imported")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backup(s) imported: %d/%d\n", okCount, len(files))
		return nil
	},
}

func backupFiles(args rosterImportArgs) ([]string, error) {
	files := make([]string, 0)
	if args.file != "" {
		files = append(files, args.file)
	}

	if args.dir != "" {
		err := filepath.WalkDir(args.dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			// include likely backup files
			lower := strings.ToLower(d.Name())
			if strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".backup") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// sort for deterministic order
	sort.Strings(files)
	return files, nil
}

func importRosterFromFile(cmd *cobra.Command, a *app, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var backup roster.BackupFormat
	if err = backup.Unmarshal(string(data)); err != nil {
		return 0, err
	}
	if err = backup.Verify(); err != nil {
		return 0, err
	}

	ctx := context.Background()
	created, err := backup.Restore(ctx, a.roster, teamFlag, cliActor)
	if err != nil {
		return len(created), err
	}

	if targetRosterImportArgs.invite {
		for _, p := range created {
			issued, err := a.issuer.Issue(ctx, p, cliActor)
			if err != nil {
				return len(created), err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Name, issued.Link)
		}
	}
	return len(created), nil
}

var rosterExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the roster as a backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		team, err := currentTeam()
		if err != nil {
			return err
		}

		a, err := newApp(util.Config, util.Config.Telegram.BotUsername)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		backup, err := roster.GetBackup(context.Background(), a.roster, team)
		if err != nil {
			return err
		}
		str, err := backup.Marshal()
		if err != nil {
			return err
		}

		if rosterExportFile == "" {
			fmt.Fprintln(cmd.OutOrStdout(), str)
			return nil
		}
		return os.WriteFile(rosterExportFile, []byte(str+"\n"), 0o600)
	},
}
