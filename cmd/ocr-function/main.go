package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/ocrworker/internal/app"
	"github.com/Lllllllleong/ocrworker/internal/config"
	"github.com/Lllllllleong/ocrworker/internal/gcp"
	"github.com/Lllllllleong/ocrworker/internal/models"
	"github.com/Lllllllleong/ocrworker/internal/services"
)

var (
	appInstance *app.App
	once        sync.Once
	initErr     error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("OCRDocument", ocrDocument)
	functions.HTTP("HandleOCRDocument", handleOCRDocument)
}

// main is required by the Go Functions Framework.
func main() {}

// initApp builds the pipeline on first use. The scheduler lives as long as
// the function instance.
func initApp() {
	once.Do(func() {
		var cfg config.Config
		cfg, initErr = config.Load(gcp.GetEnv("OCRWORKER_CONFIG", ""))
		if initErr != nil {
			return
		}
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
		slog.SetDefault(logger)

		appInstance, initErr = app.New(context.Background(), cfg, logger)
		if initErr != nil {
			return
		}
		appInstance.Start(context.Background())
	})
}

func ocrDocument(ctx context.Context, e cloudevents.Event) error {
	initApp()
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var req models.OCRRequest
	if err := json.Unmarshal(e.Data(), &req); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	if req.DocumentID == "" {
		slog.Error("Event without documentId, dropping", "eventId", e.ID())
		return nil
	}

	// The error is already logged with context within Process.
	_, err := appInstance.Pipeline.Process(ctx, &req)
	return err
}

func handleOCRDocument(w http.ResponseWriter, r *http.Request) {
	initApp()
	if initErr != nil {
		slog.Error("Critical: OCR pipeline initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.OCRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == "" {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: documentId is required", http.StatusBadRequest)
		return
	}

	res, err := appInstance.Pipeline.Process(r.Context(), &req)
	if err != nil && res == nil {
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if res.Status == services.StatusFailed {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "documentId", req.DocumentID)
	}
}
