package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andrej220/provchain/pkg/chain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// memCollection keeps documents in memory, keyed by _id.
type memCollection struct {
	docs       map[string]bson.Raw
	replaceErr error
}

func newMemCollection() *memCollection {
	return &memCollection{docs: make(map[string]bson.Raw)}
}

func idOf(filter any) string {
	id, _ := filter.(bson.M)["_id"].(string)
	return id
}

func (c *memCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult {
	raw, ok := c.docs[idOf(filter)]
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(raw, nil, nil)
}

func (c *memCollection) ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	if c.replaceErr != nil {
		return nil, c.replaceErr
	}
	raw, err := bson.Marshal(replacement)
	if err != nil {
		return nil, err
	}
	c.docs[idOf(filter)] = raw
	return &mongo.UpdateResult{UpsertedCount: 1}, nil
}

func sampleReport() *chain.Report {
	return &chain.Report{
		RunID:    uuid.MustParse("8c3f4c2e-5a4b-4b7c-9a55-0c2f1d0d7e11"),
		Chain:    "provision",
		Machine:  "builder",
		State:    chain.StateHalted,
		Reason:   chain.ReasonError,
		Current:  -1,
		HaltedAt: 0,
		Error:    "rake aborted!",
		Steps:    []chain.StepRecord{{Name: "checkout_tests", Elapsed: 3 * time.Second, Error: "rake aborted!"}},
	}
}

func TestDocID(t *testing.T) {
	id := uuid.MustParse("8c3f4c2e-5a4b-4b7c-9a55-0c2f1d0d7e11")
	assert.Equal(t, "run_builder_8c3f4c2e-5a4b-4b7c-9a55-0c2f1d0d7e11", DocID("run", "builder", id))
}

func TestSaveAndLoad(t *testing.T) {
	coll := newMemCollection()
	store := newReportStore(coll, Options{Overwrite: true})
	rep := sampleReport()

	require.NoError(t, store.Save(context.Background(), "builder", rep))
	raw, ok := coll.docs[DocID(DefaultPrefix, "builder", rep.RunID)]
	require.True(t, ok)
	assert.Equal(t, "halted", raw.Lookup("state").StringValue())

	got, err := store.Load(context.Background(), "builder", rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, got.RunID)
	assert.Equal(t, chain.ReasonError, got.Reason)
	assert.Equal(t, "rake aborted!", got.Error)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, 3*time.Second, got.Steps[0].Elapsed)

	// overwrite is allowed
	require.NoError(t, store.Save(context.Background(), "builder", rep))
}

func TestSaveWithoutOverwrite(t *testing.T) {
	store := newReportStore(newMemCollection(), Options{Prefix: "ci"})
	rep := sampleReport()

	require.NoError(t, store.Save(context.Background(), "builder", rep))
	err := store.Save(context.Background(), "builder", rep)
	assert.ErrorIs(t, err, ErrReportExists)
}

func TestStoreErrors(t *testing.T) {
	coll := newMemCollection()
	store := newReportStore(coll, Options{Overwrite: true})

	_, err := store.Load(context.Background(), "builder", uuid.New())
	assert.ErrorIs(t, err, ErrReportNotFound)

	assert.Error(t, store.Save(context.Background(), "builder", nil))

	coll.replaceErr = errors.New("not primary")
	assert.ErrorContains(t, store.Save(context.Background(), "builder", sampleReport()), "not primary")
}
