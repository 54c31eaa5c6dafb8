package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

type mockWriter struct {
	mu       sync.Mutex
	batches  [][]*models.Product
	closed   bool
	writeErr error
}

func (mw *mockWriter) Write(_ context.Context, products []*models.Product) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.writeErr != nil {
		return mw.writeErr
	}
	copyBatch := make([]*models.Product, len(products))
	copy(copyBatch, products)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return nil
}

func (mw *mockWriter) ids() []string {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	var out []string
	for _, batch := range mw.batches {
		for _, p := range batch {
			out = append(out, p.ID())
		}
	}
	return out
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(context.Context, []*models.Product) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

func ptr[T any](v T) *T { return &v }

func product(id string) *models.Product {
	return &models.Product{
		ProductID:  ptr(id),
		Title:      ptr("Lawn Suit " + id),
		Price:      ptr(1250.0),
		ProductURL: ptr("https://shop.example.test/products/lawn-suit-i" + id + ".html"),
		InStock:    true,
		ScrapedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Source:     models.SourceAPI,
	}
}

func TestPipelineKeepsIncompleteProducts(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	noTitle := product("2")
	noTitle.Title = nil
	noPrice := product("3")
	noPrice.Price = nil

	if err := p.Process(product("1"), noTitle, noPrice, nil); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.ids(); len(got) != 3 {
		t.Fatalf("written products = %v, want 3 records", got)
	}

	warnings, ok := p.GetMetrics()["validation_warnings"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation warnings map")
	}
	if warnings["missing_title"] != 1 || warnings["missing_price"] != 1 {
		t.Fatalf("warnings = %v", warnings)
	}
}

func TestPipelinePreservesPageOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	var want []string
	for page := 0; page < 20; page++ {
		batch := make([]*models.Product, 0, 3)
		for i := 0; i < 3; i++ {
			id := strconv.Itoa(page*10 + i)
			want = append(want, id)
			batch = append(batch, product(id))
		}
		if err := p.Process(batch...); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := writer.ids()
	if len(got) != len(want) {
		t.Fatalf("written %d products, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPipelineSplitsLargePages(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	batch := make([]*models.Product, 0, 65)
	for i := 0; i < 65; i++ {
		batch = append(batch, product(strconv.Itoa(i)))
	}
	if err := p.Process(batch...); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 || sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
	if got := p.GetMetrics()["written_products"].(int64); got != 65 {
		t.Fatalf("written_products = %d, want 65", got)
	}
}

func TestPipelineWriteFailureSurfaces(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PipelineBufferSize = 1
	boom := errors.New("disk full")
	writer := &mockWriter{writeErr: boom}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	if err := p.Process(product("1")); err != nil {
		t.Fatalf("first process: %v", err)
	}

	err := p.Close()
	if !errors.Is(err, boom) {
		t.Fatalf("close error = %v, want wrapped %v", err, boom)
	}
	if err := p.Process(product("2")); err == nil {
		t.Fatal("expected process after failure to be rejected")
	}
}

func TestPipelineRejectsAfterClose(t *testing.T) {
	cfg := config.DefaultConfig()
	p := NewPipeline(context.Background(), &mockWriter{}, cfg)
	p.Start()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Process(product("1")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
}

func TestPipelineWritesSurviveCancellation(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPipeline(ctx, writer, cfg)
	p.Start()

	if err := p.Process(product("1"), product("2")); err != nil {
		t.Fatalf("process: %v", err)
	}
	cancel()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := writer.ids(); len(got) != 2 {
		t.Fatalf("written = %v, want 2 records", got)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	if err := p.Process(product("blocked")); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}
