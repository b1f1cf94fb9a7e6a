package main

import (
	"github.com/spf13/cobra"

	"github.com/graphwork/taskgraphd/internal/tools"
)

var attachArgs tools.AttachArgs

var attachCmd = &cobra.Command{
	Use:   "attach <task-id>",
	Short: "Attach content to a task under a named, config-defined key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attachArgs.TaskID = args[0]
		return send(tools.OpAttach, attachArgs)
	},
}

var listAttachmentsCmd = &cobra.Command{
	Use:   "list-attachments <task-id>",
	Short: "List a task's attachments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpListAttachments, tools.ListAttachmentsArgs{TaskID: args[0]})
	},
}

var detachCmd = &cobra.Command{
	Use:   "detach <attachment-id>",
	Short: "Remove a single attachment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpDetach, tools.DetachArgs{AttachmentID: args[0]})
	},
}

var giveFeedbackText string

var giveFeedbackCmd = &cobra.Command{
	Use:   "give-feedback <task-id>",
	Short: "Append a feedback note to a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpGiveFeedback, tools.GiveFeedbackArgs{TaskID: args[0], Text: giveFeedbackText})
	},
}

var listFeedbackCmd = &cobra.Command{
	Use:   "list-feedback <task-id>",
	Short: "List feedback notes left on a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpListFeedback, tools.ListFeedbackArgs{TaskID: args[0]})
	},
}

func init() {
	attachCmd.Flags().StringVar(&attachArgs.Name, "name", "", "attachment key name (required)")
	attachCmd.Flags().StringVar(&attachArgs.MimeType, "mime-type", "", "MIME type of the content")
	attachCmd.Flags().StringVar(&attachArgs.Content, "content", "", "attachment content, or an external reference when --external is set")
	attachCmd.Flags().BoolVar(&attachArgs.IsExternal, "external", false, "content is an external reference rather than inline data")
	_ = attachCmd.MarkFlagRequired("name")

	giveFeedbackCmd.Flags().StringVar(&giveFeedbackText, "text", "", "feedback text")
}
