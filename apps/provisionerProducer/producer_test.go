package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andrej220/provchain/internal/lg"
	"github.com/andrej220/provchain/internal/serverutil"
	dm "github.com/andrej220/provchain/pkg/shared-models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	keys [][]byte
	reqs []dm.Request
	err  error
}

func (p *fakeProducer) Write(ctx context.Context, key []byte, req dm.Request) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.reqs = append(p.reqs, req)
	return nil
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/provision", strings.NewReader(body)))
	return rec
}

func TestProvisionRequestQueued(t *testing.T) {
	producer := &fakeProducer{}
	h := serverutil.NewValidationHandler[dm.Request](&Handler{producer: producer, lg: lg.Discard}, dm.Request.Validate)

	rec := post(h, `{"machine":"builder","buildDir":"/opt/build"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp dm.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEqual(t, uuid.Nil, resp.RunID)
	assert.Equal(t, "builder", resp.Machine)
	assert.Equal(t, dm.StatusQueued, resp.Status)

	require.Len(t, producer.reqs, 1)
	assert.Equal(t, resp.RunID, producer.reqs[0].RunID)
	assert.Equal(t, resp.RunID[:], producer.keys[0])
	assert.Equal(t, "/opt/build", producer.reqs[0].BuildDir)
}

func TestProvisionRequestRejected(t *testing.T) {
	producer := &fakeProducer{}
	h := serverutil.NewValidationHandler[dm.Request](&Handler{producer: producer, lg: lg.Discard}, dm.Request.Validate)

	assert.Equal(t, http.StatusBadRequest, post(h, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(h, `{"machine":"builder","buildDir":"relative"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(h, `{"machine":"builder","buildDir":"/tmp; touch /pwned #"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(h, `{"machine":"builder","buildDir":"/opt/$(id)"}`).Code)
	assert.Empty(t, producer.reqs)
}

func TestProvisionProducerFailure(t *testing.T) {
	h := serverutil.NewValidationHandler[dm.Request](&Handler{producer: &fakeProducer{err: errors.New("broker down")}, lg: lg.Discard}, dm.Request.Validate)
	assert.Equal(t, http.StatusInternalServerError, post(h, `{"machine":"builder"}`).Code)
}
