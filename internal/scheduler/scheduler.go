package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/fbecker/gridpoll/internal/ingest"
)

// Scheduler drives the ingestion loop on a fixed cadence. Cycles never
// overlap, and Stop waits for an in-flight cycle to finish before
// returning, so shutdown never interrupts a cycle mid-flight.
type Scheduler struct {
	scheduler *gocron.Scheduler
	loop      *ingest.Loop
	interval  time.Duration
	timeout   time.Duration
	wg        sync.WaitGroup
}

// New creates a Scheduler that runs one poll cycle every interval. Each
// cycle gets a context bounded by timeout.
func New(loop *ingest.Loop, interval, timeout time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		loop:      loop,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first cycle runs immediately.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).SingletonMode().StartImmediately().Do(func() {
		s.wg.Add(1)
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		report := s.loop.RunCycle(ctx)
		log.Printf("scheduler: %s", report.Summary())
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop cancels future cycles and waits for the current one to complete.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.wg.Wait()
}
