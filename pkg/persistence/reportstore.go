// Package persistence stores chain run reports in MongoDB.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/provchain/pkg/chain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultPrefix = "run"
	opTimeout     = 30 * time.Second
)

var (
	ErrReportExists   = errors.New("report already exists")
	ErrReportNotFound = errors.New("report not found")
)

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

type Options struct {
	Prefix    string
	Overwrite bool
}

// ReportStore keeps one document per run, keyed by DocID.
type ReportStore struct {
	coll collection
	opt  Options
}

func NewReportStore(coll *mongo.Collection, opt Options) *ReportStore {
	return newReportStore(coll, opt)
}

func newReportStore(coll collection, opt Options) *ReportStore {
	if opt.Prefix == "" {
		opt.Prefix = DefaultPrefix
	}
	return &ReportStore{coll: coll, opt: opt}
}

// DocID is the document id of a run: <prefix>_<machine>_<runID>.
func DocID(prefix, machine string, runID uuid.UUID) string {
	return prefix + "_" + machine + "_" + runID.String()
}

// Save upserts the report of a run on machine.
func (s *ReportStore) Save(ctx context.Context, machine string, rep *chain.Report) error {
	if rep == nil {
		return errors.New("nil report")
	}
	docID := DocID(s.opt.Prefix, machine, rep.RunID)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if !s.opt.Overwrite {
		err := s.coll.FindOne(ctx, bson.M{"_id": docID}).Err()
		if err == nil {
			return fmt.Errorf("%w: %s", ErrReportExists, docID)
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("lookup %s: %w", docID, err)
		}
	}

	doc := bson.M{"_id": docID}
	dataBytes, err := bson.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := bson.Unmarshal(dataBytes, &doc); err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": docID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save %s: %w", docID, err)
	}
	return nil
}

func (s *ReportStore) Load(ctx context.Context, machine string, runID uuid.UUID) (*chain.Report, error) {
	docID := DocID(s.opt.Prefix, machine, runID)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rep chain.Report
	err := s.coll.FindOne(ctx, bson.M{"_id": docID}).Decode(&rep)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", docID, err)
	}
	return &rep, nil
}

// Connect opens a client and returns a store over db.coll. The returned
// function disconnects the client.
func Connect(ctx context.Context, uri, db, coll string, opt Options) (*ReportStore, func(context.Context) error, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	return NewReportStore(client.Database(db).Collection(coll), opt), client.Disconnect, nil
}
