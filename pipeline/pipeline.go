package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when pending batches do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for queued batches.
var drainTimeout = 30 * time.Second

// OutputWriter persists product batches.
type OutputWriter interface {
	Write(ctx context.Context, products []*models.Product) error
	Close() error
	Validate() error
}

// Pipeline is the append-only product sink. Each Process call is one page batch;
// batches reach the writer in call order through a single worker.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	batchCh   chan []*models.Product
	batchSize int

	wg sync.WaitGroup

	metrics metrics

	mu      sync.Mutex // guards closed/err/started
	closed  bool
	started bool
	err     error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline buffering up to cfg.PipelineBufferSize page batches.
// Writes are detached from ctx cancellation so admitted records still land after an interrupt.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	buffer := cfg.PipelineBufferSize
	if buffer <= 0 {
		buffer = 1
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Pipeline{
		ctx:       context.WithoutCancel(ctx),
		writer:    writer,
		batchCh:   make(chan []*models.Product, buffer),
		batchSize: batchSize,
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches the writer goroutine. Calling it more than once has no effect.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.started {
		return
	}
	p.started = true
	p.wg.Add(1)
	go p.worker()
}

// Process enqueues one page batch.
func (p *Pipeline) Process(products ...*models.Product) error {
	batch := make([]*models.Product, 0, len(products))
	for _, product := range products {
		if product != nil {
			batch = append(batch, product)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}
	return p.enqueue(batch)
}

// Close stops accepting batches and waits for queued ones to be written.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.batchCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.signalShutdown()
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
	p.signalShutdown()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("written", m["written_products"].(int64)),
					slog.Int64("batches", m["batches"].(int64)),
					slog.Any("warnings", m["validation_warnings"]),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for batch := range p.batchCh {
		if p.Err() != nil {
			continue
		}
		for _, product := range batch {
			if err := parser.ValidateProduct(product); err != nil {
				p.metrics.addValidation(warningKind(product))
				slog.Debug("incomplete product", slog.Any("error", err))
			}
		}
		for start := 0; start < len(batch); start += p.batchSize {
			end := min(start+p.batchSize, len(batch))
			if err := p.writer.Write(p.ctx, batch[start:end]); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				break
			}
			p.metrics.addWritten(end - start)
		}
	}
}

func warningKind(product *models.Product) string {
	switch {
	case product.Title == nil:
		return "missing_title"
	case product.Price == nil:
		return "missing_price"
	default:
		return "missing_url"
	}
}

func (p *Pipeline) enqueue(batch []*models.Product) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.batchCh <- batch:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	written    int64
	batches    int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) addWritten(n int) {
	m.mu.Lock()
	m.written += int64(n)
	m.batches++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"written_products":    m.written,
		"batches":             m.batches,
		"validation_warnings": copyValidation,
	}
}
