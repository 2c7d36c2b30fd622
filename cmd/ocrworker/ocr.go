package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/ocrworker/internal/app"
	"github.com/Lllllllleong/ocrworker/internal/models"
)

var (
	ocrLang string
	ocrFile string
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [document-id]",
	Short: "Run one OCR pipeline in-process",
	Long: `Run the OCR pipeline for one document without the broker and print
the result as JSON.

With --file the given PDF or image is registered as a new document in the
in-memory metastore first, which allows a fully local run:

  ocrworker ocr --file scan.pdf --lang eng`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if (len(args) == 1) == (ocrFile != "") {
			return errors.New("give either a document id or --file")
		}

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		a.Start(ctx)

		req := models.OCRRequest{Lang: ocrLang}
		if ocrFile != "" {
			if req.DocumentID, err = seedLocalDocument(a.Store, a.Mirror, ocrFile); err != nil {
				return err
			}
		} else {
			req.DocumentID = args[0]
		}

		resp, err := a.Pipeline.Process(ctx, &req)
		if resp != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(resp); encErr != nil {
				logger.Error("failed to write response", "error", encErr)
			}
		}
		return err
	},
}

func init() {
	ocrCmd.Flags().StringVar(&ocrLang, "lang", "", "OCR language (default: ocr.default_lang)")
	ocrCmd.Flags().StringVar(&ocrFile, "file", "", "register a local file as a new document (memory metastore only)")

	rootCmd.AddCommand(ocrCmd)
}
