package selector

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/buildlog"
)

type memoKey struct {
	path  string
	since int64
}

type memoOracle struct {
	oracle  Oracle
	lock    sync.Mutex
	results map[memoKey]bool
}

// Memoize caches the answers of oracle. Paths are normalized with DirPath before they are
// queried, so "a" and "a/" are the same question. The answer for a (path, since) pair doesn't
// change during a single build so the cache must not outlive one invocation.
func Memoize(oracle Oracle) Oracle {
	return &memoOracle{
		oracle:  oracle,
		results: make(map[memoKey]bool),
	}
}

func (m *memoOracle) ChangedSince(ctx context.Context, path string, since time.Time) (bool, error) {
	path = DirPath(path)
	key := memoKey{path: path, since: since.UnixNano()}

	m.lock.Lock()
	result, ok := m.results[key]
	m.lock.Unlock()
	if ok {
		return result, nil
	}

	result, err := m.oracle.ChangedSince(ctx, path, since)
	if err != nil {
		return false, err
	}

	m.lock.Lock()
	m.results[key] = result
	m.lock.Unlock()
	return result, nil
}

type retryOracle struct {
	oracle   Oracle
	attempts int
}

// Retry repeats failed queries up to retries additional times. Only OracleErrors are
// retried; a negative answer is final.
func Retry(oracle Oracle, retries int) Oracle {
	if retries < 1 {
		return oracle
	}

	return &retryOracle{oracle: oracle, attempts: retries + 1}
}

func (r *retryOracle) ChangedSince(ctx context.Context, path string, since time.Time) (bool, error) {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		var result bool
		result, err = r.oracle.ChangedSince(ctx, path, since)
		if err == nil {
			return result, nil
		}

		var oracleErr *OracleError
		if !eris.As(err, &oracleErr) || ctx.Err() != nil {
			return false, err
		}

		buildlog.Log(ctx).Warn().
			Str("path", path).
			Int("attempt", attempt).
			Msgf("change query failed: %s", oracleErr.Diagnostic)
	}

	return false, err
}
