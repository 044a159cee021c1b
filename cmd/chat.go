package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"yarn-agent/model"
)

var (
	chatSession string
	chatDebug   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the router from the terminal",
	Long:  "Reads one message per line from stdin and prints the reply. Type /quit to leave.",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "resume this session id instead of starting a new one")
	chatCmd.Flags().BoolVar(&chatDebug, "debug", false, "print classifier results after each reply")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx, quiet)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	out := cmd.OutOrStdout()
	id := chatSession
	if id == "" {
		id = uuid.NewString()
		fmt.Fprintln(out, a.replies.Select(model.ReplySelector{
			Step:        model.StepWelcome,
			Subcategory: model.SubGreeting,
			SessionID:   id,
		}))
	}
	fmt.Fprintf(out, "(session %s)\n", id)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			break
		}
		if line == "" {
			continue
		}

		res, err := a.router.Route(ctx, id, line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.ReplyText)
		if chatDebug {
			data, _ := json.MarshalIndent(res.Debug, "", "  ")
			fmt.Fprintf(out, "[%s -> %s]\n%s\n", res.Debug.Decision, res.NewState, data)
		}
	}
	return scanner.Err()
}
