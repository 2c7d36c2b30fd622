package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/ocrworker/internal/app"
	"github.com/Lllllllleong/ocrworker/internal/models"
	"github.com/Lllllllleong/ocrworker/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume OCR requests from Kafka",
	Long: `Start the OCR worker.

The worker starts the task scheduler and consumes OCR requests from the
prefixed "ocr" topic until interrupted. Offsets are committed once a
run has reached a terminal state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if len(cfg.Queue.Brokers) == 0 {
			return errors.New("queue.brokers is required to run the worker")
		}

		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		a.Start(ctx)

		consumer := queue.NewConsumer(queue.ConsumerConfig{
			Brokers:     cfg.Queue.Brokers,
			Topic:       a.OCRQueue(),
			GroupID:     cfg.Queue.GroupID,
			Concurrency: cfg.Queue.Concurrency,
			Logger:      logger,
		})
		defer consumer.Close()

		return consumer.Start(ctx, func(ctx context.Context, req models.OCRRequest) error {
			_, err := a.Pipeline.Process(ctx, &req)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
