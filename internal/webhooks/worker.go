package webhooks

import (
	"context"
	"log"
	"time"
)

// StartRetryWorker runs SweepFailed every sweep interval until ctx is done.
func (s *Service) StartRetryWorker(ctx context.Context) {
	log.Printf("Starting webhook retry worker (every %s, max %d retries)...", s.sweepInterval, s.maxRetries)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	// Catch up on anything left over from before a restart
	s.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("Webhook retry worker shutting down...")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Service) runSweep(ctx context.Context) {
	if _, err := s.SweepFailed(ctx); err != nil {
		if IsSweepSkipped(err) {
			log.Println("Webhook retry sweep skipped: another instance holds the lock")
			return
		}
		if ctx.Err() == nil {
			log.Printf("Error sweeping failed webhook events: %v", err)
		}
	}
}

// DrainFailed sweeps repeatedly until no due event remains. It is meant for
// maintenance runs, not the periodic worker.
func (s *Service) DrainFailed(ctx context.Context) (*SweepStats, error) {
	total := &SweepStats{}

	for {
		stats, err := s.SweepFailed(ctx)
		if err != nil {
			return total, err
		}

		total.Scanned += stats.Scanned
		total.Retried += stats.Retried
		total.Succeeded += stats.Succeeded
		total.Failed += stats.Failed
		total.Escalated += stats.Escalated
		total.Skipped += stats.Skipped

		// A short batch, or one where nothing could be claimed, means we are done
		if stats.Scanned < s.batchSize || stats.Retried == 0 {
			break
		}

		// Small delay between batches to avoid overwhelming the database
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	log.Printf("Drained webhook retries: retried=%d succeeded=%d failed=%d escalated=%d",
		total.Retried, total.Succeeded, total.Failed, total.Escalated)
	return total, nil
}
