package verifier

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// VerifyBatch verifies every request concurrently against the same cfg.
// results[i] is the outcome of reqs[i] whatever order the verifications
// finish in.
func (v *Verifier) VerifyBatch(ctx context.Context, reqs []*http.Request, cfg Config) ([]Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, r := range reqs {
		if r == nil {
			return nil, ErrNilRequest
		}
	}

	results := make([]Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	if v.batchLimit > 0 {
		g.SetLimit(v.batchLimit)
	}

	for i, r := range reqs {
		g.Go(func() error {
			res, _, err := v.verify(gctx, r, cfg)
			if err != nil {
				return err
			}

			results[i] = res

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
