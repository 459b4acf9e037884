package uws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"millq/internal/domain"
)

// ResultChunkSize is the fixed buffer used to stream result payloads.
const ResultChunkSize = 32 << 10

// FetchResults streams the result of a COMPLETED job to dst and returns
// the number of bytes written. The payload is copied verbatim.
func (c *Client) FetchResults(ctx context.Context, dst io.Writer) (int64, error) {
	job, err := c.requireJob("fetch results")
	if err != nil {
		return 0, err
	}
	phase, err := c.Phase(ctx)
	if err != nil {
		return 0, err
	}
	if phase != domain.PhaseCompleted {
		return 0, domain.ErrUsage("job %s is not completed yet (phase %s)", job.ID, phase)
	}

	resultURL := job.URL + "/results/result"
	resp, err := c.do(ctx, c.session, http.MethodGet, resultURL, nil)
	if err != nil {
		return 0, fmt.Errorf("fetch results of job %s: %w", job.ID, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	buf := make([]byte, ResultChunkSize)
	n, err := io.ReadFull(resp.Body, buf)
	done := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
	if err != nil && !done {
		return 0, fmt.Errorf("fetch results of job %s: %w", job.ID, err)
	}
	// The login page is small; the first chunk is enough to recognise it.
	if err := c.checkResponse(http.MethodGet, resultURL, resp.StatusCode, buf[:n]); err != nil {
		return 0, err
	}

	var written int64
	write := func(p []byte) error {
		w, err := dst.Write(p)
		written += int64(w)
		if err != nil {
			return fmt.Errorf("write results of job %s: %w", job.ID, err)
		}
		if w != len(p) {
			return fmt.Errorf("write results of job %s: %w", job.ID, io.ErrShortWrite)
		}
		return nil
	}

	if err := write(buf[:n]); err != nil {
		return written, err
	}
	for !done {
		r, rerr := resp.Body.Read(buf)
		if r > 0 {
			if err := write(buf[:r]); err != nil {
				return written, err
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("read results of job %s: %w", job.ID, rerr)
		}
	}

	c.logger.Info("results fetched", "job_id", job.ID, "bytes", written)
	return written, nil
}
