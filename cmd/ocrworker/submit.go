package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/ocrworker/internal/models"
	"github.com/Lllllllleong/ocrworker/internal/queue"
)

var submitLang string

var submitCmd = &cobra.Command{
	Use:   "submit <document-id>",
	Short: "Queue an OCR request for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if len(cfg.Queue.Brokers) == 0 {
			return fmt.Errorf("queue.brokers is required to submit")
		}

		topic := cfg.Prefixed(queue.TopicOCR)
		producer := queue.NewProducer(cfg.Queue.Brokers, topic)
		defer producer.Close()

		req := models.OCRRequest{DocumentID: args[0], Lang: submitLang}
		if err := producer.SubmitOCR(cmd.Context(), req); err != nil {
			return err
		}
		logger.Info("ocr request submitted", "documentId", req.DocumentID, "lang", req.Lang, "topic", topic)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitLang, "lang", "", "OCR language (default: ocr.default_lang)")

	rootCmd.AddCommand(submitCmd)
}
