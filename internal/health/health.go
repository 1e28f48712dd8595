package health

import (
	"context"
	"sync"
	"time"

	log "log/slog"

	"golang.org/x/sync/errgroup"

	"theravox/internal/domain"
)

// Source yields biometric samples. Implementations: Simulator, FileSource.
type Source interface {
	HeartRate(ctx context.Context) ([]domain.BiometricSample, error)
	Sleep(ctx context.Context) ([]domain.BiometricSample, error)
}

// Analyzer turns samples into a free-form insights text.
type Analyzer interface {
	Analyze(ctx context.Context, samples []domain.BiometricSample) (string, error)
}

// Context holds the latest snapshot read by the aggregator. It implements
// ports.HealthContext.
type Context struct {
	mu       sync.RWMutex
	samples  []domain.BiometricSample
	insights string
	updated  time.Time
}

func (c *Context) Samples() []domain.BiometricSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.BiometricSample(nil), c.samples...)
}

func (c *Context) Insights() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.insights
}

func (c *Context) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

func (c *Context) set(samples []domain.BiometricSample, insights string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = samples
	c.insights = insights
	c.updated = time.Now()
}

// Collector periodically refreshes a Context from a Source and, when
// configured, an Analyzer.
type Collector struct {
	Source   Source
	Analyzer Analyzer
	Context  *Context
}

// Refresh fetches heart rate and sleep concurrently, then asks the analyzer
// for insights. An analyzer failure keeps the samples and clears insights.
func (c *Collector) Refresh(ctx context.Context) error {
	var heart, sleep []domain.BiometricSample

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		heart, err = c.Source.HeartRate(gctx)
		return err
	})
	g.Go(func() (err error) {
		sleep, err = c.Source.Sleep(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	samples := make([]domain.BiometricSample, 0, len(heart)+len(sleep))
	samples = append(append(samples, heart...), sleep...)
	insights := ""
	if c.Analyzer != nil && len(samples) > 0 {
		text, err := c.Analyzer.Analyze(ctx, samples)
		if err != nil {
			log.Warn("Health analysis failed", "err", err)
		} else {
			insights = text
		}
	}

	c.Context.set(samples, insights)
	log.Info("Health context refreshed", "heart_rate", len(heart), "sleep", len(sleep), "insights", insights != "")
	return nil
}

// Run refreshes immediately and then every interval until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration) error {
	if err := c.Refresh(ctx); err != nil {
		log.Error("Health refresh failed", "err", err)
	}
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				log.Error("Health refresh failed", "err", err)
			}
		}
	}
}
