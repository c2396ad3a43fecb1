package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nimbus-chat/nimbus/internal/client"
)

// NewConversationsCmd groups conversation management subcommands.
func NewConversationsCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage daemon-side conversations",
	}
	cmd.AddCommand(newConversationsListCmd(opts))
	cmd.AddCommand(newConversationsShowCmd(opts))
	cmd.AddCommand(newConversationsNewCmd(opts))
	return cmd
}

func newConversationsListCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := newAPI(opts)
			if err != nil {
				return err
			}
			summaries, err := api.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No conversations yet.")
				return nil
			}
			for _, s := range summaries {
				fmt.Fprintf(out, "%s  messages=%d  updated=%s\n", s.ID, s.MessageCount, s.UpdatedAt)
				if s.LastMessage != "" {
					fmt.Fprintf(out, "    %s\n", s.LastMessage)
				}
			}
			return nil
		},
	}
}

func newConversationsShowCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the full transcript of one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := newAPI(opts)
			if err != nil {
				return err
			}
			detail, err := api.GetConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range detail.Messages {
				fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
			}
			return nil
		},
	}
}

func newConversationsNewCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create an empty conversation and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := newAPI(opts)
			if err != nil {
				return err
			}
			id, err := api.CreateConversation(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newAPI(opts *Options) (*client.API, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return client.NewAPI(cfg.Client.DaemonAddr), nil
}
