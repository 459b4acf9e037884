package uws

import (
	"context"
	"fmt"

	"millq/internal/domain"
)

// Poll fetches the job status until the phase is terminal. COMPLETED is
// returned as-is; ERROR and ABORTED come back as JobFailedError and
// JobAbortedError. With maxAttempts > 0, at most maxAttempts status
// fetches are made before a TimeoutError; 0 polls without bound.
func (c *Client) Poll(ctx context.Context, maxAttempts int) (domain.Phase, error) {
	if maxAttempts < 0 {
		return "", domain.ErrUsage("poll: max attempts must not be negative")
	}
	job, err := c.requireJob("poll")
	if err != nil {
		return "", err
	}

	for attempt := 1; ; attempt++ {
		doc, err := c.status(ctx, "poll")
		if err != nil {
			return "", err
		}
		phase, err := phaseOf(doc)
		if err != nil {
			return "", fmt.Errorf("poll job %s: %w", job.ID, err)
		}

		switch phase {
		case domain.PhaseCompleted:
			c.logger.Info("job completed", "job_id", job.ID, "attempts", attempt)
			return phase, nil
		case domain.PhaseAborted:
			return phase, &domain.JobAbortedError{JobID: job.ID}
		case domain.PhaseError:
			var msg string
			if doc.ErrorMessage != nil {
				msg = *doc.ErrorMessage
			}
			return phase, &domain.JobFailedError{JobID: job.ID, Message: msg}
		}

		if maxAttempts > 0 && attempt >= maxAttempts {
			return phase, &domain.TimeoutError{JobID: job.ID, Attempts: attempt, Phase: phase}
		}

		delay := c.backoff.Delay(attempt)
		c.logger.Debug("job not finished", "job_id", job.ID, "phase", phase, "attempt", attempt, "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return phase, fmt.Errorf("poll job %s: %w", job.ID, err)
		}
	}
}
