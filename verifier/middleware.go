package verifier

import (
	"context"
	"encoding/json"
	"net/http"
)

type resultKey struct{}

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// Verify configures how requests are verified.
	Verify Config

	// OnError is called when verification fails. When nil, the Result is
	// written as JSON with the status from StatusCode.
	OnError func(w http.ResponseWriter, r *http.Request, res Result)
}

// Middleware returns a middleware that rejects requests whose signature
// does not verify. Verified requests carry their Result in the request
// context, see ResultFromContext.
//
// It returns an error if v is nil or cfg.Verify is invalid.
func Middleware(v *Verifier, cfg MiddlewareConfig) (func(http.Handler) http.Handler, error) {
	if v == nil {
		return nil, ErrNoResolver
	}

	if err := cfg.Verify.Validate(); err != nil {
		return nil, err
	}

	onError := cfg.OnError
	if onError == nil {
		onError = WriteResult
	}

	verifyCfg := cfg.Verify

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := v.Verify(r.Context(), r, verifyCfg)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if !res.Valid {
				onError(w, r, res)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), resultKey{}, res)))
		})
	}, nil
}

// ResultFromContext returns the Result stored by Middleware.
func ResultFromContext(ctx context.Context) (Result, bool) {
	res, ok := ctx.Value(resultKey{}).(Result)
	return res, ok
}

// WriteResult writes res as JSON with the status from StatusCode.
func WriteResult(w http.ResponseWriter, _ *http.Request, res Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusCode(res.Error))
	_ = json.NewEncoder(w).Encode(res)
}
