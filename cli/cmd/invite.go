package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/services/invitations"
	"github.com/rostergate/rostergate/util"
	"github.com/spf13/cobra"
)

const cliActor = "cli"

var inviteArgs struct {
	record string
	qr     bool
	status string
}

func init() {
	inviteCreateCmd.Flags().StringVar(&inviteArgs.record, "record", "", "Roster record id the invitation links to")
	inviteCreateCmd.Flags().BoolVar(&inviteArgs.qr, "qr", false, "Print the invitation link as a QR code")
	inviteListCmd.Flags().StringVar(&inviteArgs.status, "status", "", "Only list invitations with this status")

	inviteCmd.AddCommand(inviteCreateCmd, inviteListCmd, inviteRevokeCmd)
	rootCmd.AddCommand(inviteCmd)
}

var inviteCmd = &cobra.Command{
	Use:     "invites",
	Aliases: []string{"invite"},
	Short:   "Manage invitations",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
		os.Exit(0)
	},
}

var inviteCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an invitation for an unlinked roster record",
	RunE: func(cmd *cobra.Command, args []string) error {
		if inviteArgs.record == "" {
			return fmt.Errorf("--record is required")
		}
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
		p, err := a.roster.Get(ctx, team, inviteArgs.record)
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

func printIssued(cmd *cobra.Command, p db.Participant, issued invitations.Issued) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Invitation %s for %s (%s), valid until %s\n",
		issued.Invitation.ID, p.Name, p.Role, issued.Invitation.ExpiresAt.Format(time.RFC1123))
	fmt.Fprintln(out, issued.Link)
	fmt.Fprintf(out, "Or send the bot: /start %s\n", issued.Token)

	if inviteArgs.qr {
		qrterminal.GenerateHalfBlock(issued.Link, qrterminal.L, out)
	}
}

var inviteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List invitations",
	RunE: func(cmd *cobra.Command, args []string) error {
		team, err := currentTeam()
		if err != nil {
			return err
		}

		status := db.InvitationStatus(inviteArgs.status)
		if status != "" && !status.IsValid() {
			return fmt.Errorf("unknown status %q", inviteArgs.status)
		}

		a, err := newApp(util.Config, util.Config.Telegram.BotUsername)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		list, err := a.invitations.List(context.Background(), team, invitations.ListFilter{Status: status})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tRECORD\tROLE\tSTATUS\tEXPIRES\tUSED BY")
		for _, inv := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				inv.ID, inv.TargetRecordID, inv.Role, inv.Status, inv.ExpiresAt.Format(time.RFC3339), inv.UsedBy)
		}
		return w.Flush()
	},
}

var inviteRevokeCmd = &cobra.Command{
	Use:   "revoke <invite id>",
	Short: "Withdraw an active invitation",
	Args:  cobra.ExactArgs(1),
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

		if err = a.invitations.Revoke(context.Background(), team, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Invitation revoked")
		return nil
	},
}
