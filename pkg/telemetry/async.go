package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eyecheck/gateway/pkg/models"
)

// Async writes records to a Sink in the background. Record never blocks the
// caller and never returns an error; failures (including panics in the sink)
// are logged and dropped.
type Async struct {
	sink    Sink
	pricer  *Pricer
	log     logrus.FieldLogger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps sink. A nil sink discards records.
func NewAsync(sink Sink, pricer *Pricer, log logrus.FieldLogger) *Async {
	return &Async{sink: sink, pricer: pricer, log: log, timeout: 5 * time.Second}
}

// Record stores rec in the background, filling in the cost estimate when it
// is unset.
func (a *Async) Record(rec models.UsageRecord) {
	if a == nil || a.sink == nil {
		return
	}
	if rec.CostUSD == 0 {
		rec.CostUSD = a.pricer.Cost(rec.Model, rec.TokensIn, rec.TokensOut)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.log.WithField("panic", fmt.Sprint(r)).Error("usage record panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.sink.Record(ctx, rec); err != nil {
			a.log.WithError(err).WithField("endpoint", rec.Endpoint).Warn("usage record failed")
		}
	}()
}

// Wait blocks until all pending records are written.
func (a *Async) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
