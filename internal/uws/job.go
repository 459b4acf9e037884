package uws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"millq/internal/domain"
)

// Submit posts the query. The first successful submit assigns the job ID
// from the response; later calls post to the known job and keep its ID.
func (c *Client) Submit(ctx context.Context, query string) (*domain.Job, error) {
	if err := c.ready("submit"); err != nil {
		return nil, err
	}

	target := c.baseURL
	if c.job != nil {
		target = c.job.URL
	}
	form := c.submissionParams()
	form.Set("QUERY", query)

	body, err := c.fetchDocument(ctx, http.MethodPost, target, form)
	if err != nil {
		return nil, fmt.Errorf("submit query: %w", err)
	}

	if c.job == nil {
		doc, err := parseJobDocument(body)
		if err != nil {
			return nil, fmt.Errorf("submit query: %w", err)
		}
		if doc.JobID == nil || *doc.JobID == "" {
			return nil, domain.ErrProtocol("submit query: response has no uws:jobId")
		}
		c.job = &domain.Job{ID: *doc.JobID, URL: c.jobURL(*doc.JobID)}
		c.logger.Info("job submitted", "job_id", c.job.ID, "job_url", c.job.URL)
	}
	c.request.Query = query
	return c.Job(), nil
}

// Start asks the server to run the job (PHASE=RUN).
func (c *Client) Start(ctx context.Context) error {
	return c.setPhase(ctx, "start", "RUN")
}

// Abort asks the server to abort the job (PHASE=ABORT).
func (c *Client) Abort(ctx context.Context) error {
	return c.setPhase(ctx, "abort", "ABORT")
}

func (c *Client) setPhase(ctx context.Context, op, phase string) error {
	job, err := c.requireJob(op)
	if err != nil {
		return err
	}
	form := c.submissionParams()
	form.Set("PHASE", phase)
	if _, err := c.fetchDocument(ctx, http.MethodPost, job.URL+"/phase", form); err != nil {
		return fmt.Errorf("%s job %s: %w", op, job.ID, err)
	}
	c.logger.Info("job phase requested", "job_id", job.ID, "phase", phase)
	return nil
}

// Delete removes the job and its results from the server. The client
// keeps the job ID, so later calls report whatever the server returns.
func (c *Client) Delete(ctx context.Context) error {
	job, err := c.requireJob("delete")
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("ACTION", "DELETE")
	if _, err := c.fetchDocument(ctx, http.MethodPost, job.URL, form); err != nil {
		return fmt.Errorf("delete job %s: %w", job.ID, err)
	}
	c.logger.Info("job deleted", "job_id", job.ID)
	return nil
}

// Phase fetches the job's current phase from the server.
func (c *Client) Phase(ctx context.Context) (domain.Phase, error) {
	doc, err := c.status(ctx, "phase")
	if err != nil {
		return "", err
	}
	return phaseOf(doc)
}

// ErrorMessage fetches the job's error summary message from the server.
func (c *Client) ErrorMessage(ctx context.Context) (string, error) {
	doc, err := c.status(ctx, "error message")
	if err != nil {
		return "", err
	}
	if doc.ErrorMessage == nil {
		return "", domain.ErrProtocol("job %s has no uws:errorSummary/uws:message", c.job.ID)
	}
	return *doc.ErrorMessage, nil
}

// status fetches and parses the job representation. Nothing is cached.
func (c *Client) status(ctx context.Context, op string) (*jobDocument, error) {
	job, err := c.requireJob(op)
	if err != nil {
		return nil, err
	}
	body, err := c.fetchDocument(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", job.ID, err)
	}
	doc, err := parseJobDocument(body)
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", job.ID, err)
	}
	return doc, nil
}

func phaseOf(doc *jobDocument) (domain.Phase, error) {
	if doc.Phase == nil || *doc.Phase == "" {
		return "", domain.ErrProtocol("job document has no uws:phase")
	}
	return domain.Phase(*doc.Phase), nil
}
