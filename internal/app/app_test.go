package app

import (
	"context"
	"testing"
	"time"

	"github.com/Lllllllleong/ocrworker/internal/allocator"
	"github.com/Lllllllleong/ocrworker/internal/config"
	"github.com/Lllllllleong/ocrworker/internal/metastore"
	"github.com/Lllllllleong/ocrworker/internal/notify"
)

func localConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Main:      config.MainConfig{MediaRoot: t.TempDir(), PreviewWidth: 300},
		Storage:   config.StorageConfig{Backend: config.StorageGCS},
		Metastore: config.MetastoreConfig{Backend: config.MetastoreMemory},
		Notify:    config.NotifyConfig{Backend: config.NotifyLog},
		Queue:     config.QueueConfig{Prefix: "dev"},
		Retry:     config.RetryConfig{MaxRetries: 6, Countdown: 10 * time.Second},
		Worker:    config.WorkerConfig{OCRWorkers: 2},
	}
}

func TestNew_LocalOnly(t *testing.T) {
	a, err := New(context.Background(), localConfig(t), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Mirror.Enabled() {
		t.Error("mirror enabled without a bucket")
	}
	if _, ok := a.Store.(*metastore.MemoryStore); !ok {
		t.Errorf("Store = %T, want *metastore.MemoryStore", a.Store)
	}
	if _, ok := a.Notifier.(*notify.LogNotifier); !ok {
		t.Errorf("Notifier = %T, want *notify.LogNotifier", a.Notifier)
	}
	if a.Pipeline == nil || a.Scheduler == nil {
		t.Fatal("pipeline or scheduler not built")
	}
	if got := a.OCRQueue(); got != "dev_ocr" {
		t.Errorf("OCRQueue() = %q, want dev_ocr", got)
	}
}

func TestNew_KafkaNotifier(t *testing.T) {
	cfg := localConfig(t)
	cfg.Notify.Backend = config.NotifyKafka
	cfg.Queue.Brokers = []string{"localhost:9092"}

	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()
	if _, ok := a.Notifier.(*notify.KafkaNotifier); !ok {
		t.Errorf("Notifier = %T, want *notify.KafkaNotifier", a.Notifier)
	}
}

func TestNewAllocator(t *testing.T) {
	t.Run("uuid without redis", func(t *testing.T) {
		a := &App{Config: localConfig(t)}
		if _, ok := a.newAllocator().(allocator.UUIDAllocator); !ok {
			t.Error("want UUIDAllocator")
		}
	})
	t.Run("redis when addr is set", func(t *testing.T) {
		cfg := localConfig(t)
		cfg.Redis = config.RedisConfig{Addr: "localhost:6379", ReservationTTL: time.Hour}
		a := &App{Config: cfg}
		if _, ok := a.newAllocator().(*allocator.RedisAllocator); !ok {
			t.Error("want *RedisAllocator")
		}
		if len(a.closers) != 1 {
			t.Errorf("closers = %d, want the redis client", len(a.closers))
		}
		a.Close()
	})
}
