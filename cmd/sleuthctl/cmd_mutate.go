package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/sleuth/internal/signature"
)

var muteFlags struct {
	reason string
}

var muteCmd = &cobra.Command{
	Use:   "mute <signature-id>",
	Short: "Suppress investigation of a signature",
	Args:  cobra.ExactArgs(1),
	RunE:  runMute,
}

var resolveFlags struct {
	fixNote string
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <signature-id>",
	Short: "Mark a signature's underlying issue as fixed",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var retriageCmd = &cobra.Command{
	Use:   "retriage <signature-id>",
	Short: "Send a signature back to new for a fresh investigation",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetriage,
}

func init() {
	muteCmd.Flags().StringVar(&muteFlags.reason, "reason", "", "Why the signature is being muted")
	resolveCmd.Flags().StringVar(&resolveFlags.fixNote, "fix-note", "", "What fixed the underlying issue")
}

func runMute(cmd *cobra.Command, args []string) error {
	body := map[string]string{"reason": muteFlags.reason}
	return mutate(cmd, args[0], "mute", body)
}

func runResolve(cmd *cobra.Command, args []string) error {
	body := map[string]string{"fix_note": resolveFlags.fixNote}
	return mutate(cmd, args[0], "resolve", body)
}

func runRetriage(cmd *cobra.Command, args []string) error {
	return mutate(cmd, args[0], "retriage", nil)
}

func mutate(cmd *cobra.Command, id, op string, body any) error {
	var rec signature.Record
	if err := newClient().do(cmd.Context(), http.MethodPost, "/api/v1/signatures/"+id+"/"+op, body, &rec); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %sd: status is now %s\n", rec.ID, op, rec.Status)
	return nil
}
