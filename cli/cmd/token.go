package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/pkg/token"
	"github.com/rostergate/rostergate/services/invitations"
	"github.com/rostergate/rostergate/util"
	"github.com/spf13/cobra"
)

func init() {
	tokenCmd.AddCommand(tokenSecretCmd, tokenInspectCmd)
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Work with invitation tokens",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
		os.Exit(0)
	},
}

var tokenSecretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a new root secret for " + util.EnvPrefix + "TOKEN_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(secret))
		return nil
	},
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Verify a token against the team's invitations",
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

		return inspectToken(context.Background(), cmd.OutOrStdout(), a.codec, a.invitations, team, args[0])
	},
}

type invitationGetter interface {
	Get(ctx context.Context, teamID string, inviteID string) (db.Invitation, error)
}

func inspectToken(ctx context.Context, out io.Writer, codec *token.Codec, invites invitationGetter, team string, tok string) error {
	ref, err := codec.Parse(tok)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "invite:  %s\n", ref.InviteID)

	inv, err := invites.Get(ctx, team, ref.InviteID)
	if errors.Is(err, db.ErrNotFound) {
		fmt.Fprintf(out, "status:  unknown invitation in team %s\n", team)
		return nil
	}
	if err != nil {
		return err
	}

	if inv.Signature != ref.Signature || codec.Verify(ref, invitations.TokenPayload(inv)) != nil {
		fmt.Fprintln(out, "status:  signature does not verify")
		return nil
	}

	fmt.Fprintf(out, "team:    %s\n", inv.TeamID)
	fmt.Fprintf(out, "record:  %s\n", inv.TargetRecordID)
	fmt.Fprintf(out, "role:    %s\n", inv.Role)
	fmt.Fprintf(out, "issued:  %s\n", inv.Created.Format(time.RFC3339))
	fmt.Fprintf(out, "expires: %s\n", inv.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(out, "status:  %s\n", inv.Status)
	return nil
}
