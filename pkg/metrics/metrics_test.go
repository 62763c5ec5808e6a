package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andrej220/provchain/pkg/chain"
	"github.com/andrej220/provchain/pkg/machine"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(name string, err error) chain.Step {
	return chain.StepFunc{StepName: name, Fn: func(ctx context.Context, env *chain.Env, next chain.Next) error {
		if err != nil {
			return err
		}
		return next(ctx, env)
	}}
}

func TestCollectorObservesChain(t *testing.T) {
	c := NewCollector()
	env := func() *chain.Env { return chain.NewEnv(&machine.Machine{Name: "builder"}) }

	ok := chain.New("provision", chain.WithObserver(c)).Append(step("checkout_tests", nil))
	_, err := ok.Run(context.Background(), env())
	require.NoError(t, err)

	bad := chain.New("provision", chain.WithObserver(c)).Append(step("checkout_tests", errors.New("rake aborted!")))
	_, err = bad.Run(context.Background(), env())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.steps.WithLabelValues("checkout_tests", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.steps.WithLabelValues("checkout_tests", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("completed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("halted", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.stepDuration))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.StepFinished("checkout_tests", 0, nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `provchain_steps_total{outcome="ok",step="checkout_tests"} 1`)
}
