package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/consumer"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/kafka"
)

type publishOptions struct {
	participant string
	file        string
	remove      bool
}

func newPublishCmd(opts *globalOptions) *cobra.Command {
	var po publishOptions

	cmd := &cobra.Command{
		Use:   "publish <path>",
		Short: "Publish a document event for the indexer",
		Long: `Publish an upsert (or, with --delete, a delete) event for one document
to the document-events topic. With --file the file's content travels in the
event and is stored by writable participants.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := buildEvent(args[0], po)
			if err != nil {
				return err
			}
			producer := kafka.NewProducer(opts.cfg.Kafka, opts.cfg.Kafka.Topics.DocumentEvents)
			defer producer.Close()
			if err := consumer.Publish(cmd.Context(), producer, ev); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s %s\n", ev.Type, ev.Key())
			return nil
		},
	}

	cmd.Flags().StringVarP(&po.participant, "participant", "p", "", "participant the document belongs to")
	cmd.Flags().StringVar(&po.file, "file", "", "read document content from this file")
	cmd.Flags().BoolVar(&po.remove, "delete", false, "publish a delete event")
	_ = cmd.MarkFlagRequired("participant")
	cmd.MarkFlagsMutuallyExclusive("file", "delete")
	return cmd
}

func buildEvent(path string, po publishOptions) (consumer.DocumentEvent, error) {
	ev := consumer.DocumentEvent{Type: consumer.EventUpsert, Participant: po.participant, Path: path}
	if po.remove {
		ev.Type = consumer.EventDelete
	}
	if po.file != "" {
		data, err := os.ReadFile(po.file)
		if err != nil {
			return ev, fmt.Errorf("reading %s: %w", po.file, err)
		}
		content := string(data)
		ev.Content = &content
	}
	return ev, ev.Validate()
}
