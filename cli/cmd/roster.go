package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/pkg/phone"
	"github.com/rostergate/rostergate/services/roster"
	"github.com/rostergate/rostergate/util"
	"github.com/spf13/cobra"
)

var rosterArgs struct {
	status string
	name   string
	role   string
	phone  string
}

func init() {
	rosterListCmd.Flags().StringVar(&rosterArgs.status, "status", "", "Only list records with this status")

	rosterAddCmd.Flags().StringVar(&rosterArgs.name, "name", "", "Display name")
	rosterAddCmd.Flags().StringVar(&rosterArgs.role, "role", string(db.RolePlayer), "player, member or admin")
	rosterAddCmd.Flags().StringVar(&rosterArgs.phone, "phone", "", "Contact phone used for phone-share linking")
	rosterAddCmd.Flags().BoolVar(&inviteArgs.qr, "qr", false, "Print the invitation link as a QR code")

	rosterCmd.AddCommand(rosterListCmd, rosterAddCmd, rosterApproveCmd, rosterRejectCmd)
	rootCmd.AddCommand(rosterCmd)
}

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage the team roster",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
		os.Exit(0)
	},
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List roster records",
	RunE: func(cmd *cobra.Command, args []string) error {
		team, err := currentTeam()
		if err != nil {
			return err
		}

		status := db.ParticipantStatus(rosterArgs.status)
		if status != "" && !status.IsValid() {
			return fmt.Errorf("unknown status %q", rosterArgs.status)
		}

		a, err := newApp(util.Config, util.Config.Telegram.BotUsername)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		list, err := a.roster.List(context.Background(), team, roster.ListFilter{Status: status})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tROLE\tSTATUS\tPHONE\tLINKED TO")
		for _, p := range list {
			masked := ""
			if p.ContactPhone != "" {
				masked = phone.Mask(p.ContactPhone)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				p.ID, p.Name, p.Role, p.Status, masked, p.ChatIdentity)
		}
		return w.Flush()
	},
}

var rosterAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a roster record and create its invitation",
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

		ctx := context.Background()
		p, err := a.roster.Create(ctx, roster.NewParticipant{
			TeamID:       team,
			Name:         rosterArgs.name,
			Role:         db.RoleTag(rosterArgs.role),
			ContactPhone: rosterArgs.phone,
			CreatedBy:    cliActor,
		})
		if err != nil {
			return err
		}

		issued, err := a.issuer.Issue(ctx, p, cliActor)
		if err != nil {
			return err
		}
		printIssued(cmd, p, issued)
		return nil
	},
}

var rosterApproveCmd = &cobra.Command{
	Use:   "approve <record id>",
	Short: "Approve a linked record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideRecord(cmd, args[0], true)
	},
}

var rosterRejectCmd = &cobra.Command{
	Use:   "reject <record id>",
	Short: "Reject a linked record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideRecord(cmd, args[0], false)
	},
}

func decideRecord(cmd *cobra.Command, recordID string, approve bool) error {
	team, err := currentTeam()
	if err != nil {
		return err
	}

	a, err := newApp(util.Config, util.Config.Telegram.BotUsername)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	var p db.Participant
	if approve {
		p, err = a.roster.Approve(context.Background(), team, recordID, cliActor)
	} else {
		p, err = a.roster.Reject(context.Background(), team, recordID, cliActor)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", p.Name, p.Status)
	return nil
}
