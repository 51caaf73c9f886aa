// internal/store/transactions.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"reliefledger/internal/amount"
	"reliefledger/internal/domain"
)

func bsonD(key string, value int) bson.D {
	return bson.D{{Key: key, Value: value}}
}

// FindByHash returns the stored record for a hash, or nil when absent.
func (g *Gateway) FindByHash(ctx context.Context, hash string) (*domain.TransactionRecord, error) {
	coll, err := g.collection()
	if err != nil {
		return nil, err
	}

	var rec domain.TransactionRecord
	err = coll.FindOne(ctx, bson.M{"hash": hash}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find by hash: %v", domain.ErrStoreUnavailable, err)
	}
	return &rec, nil
}

// Insert writes a record. A write racing an earlier one on the same hash
// loses against the unique index and reports ErrDuplicateHash.
func (g *Gateway) Insert(ctx context.Context, rec domain.TransactionRecord) error {
	coll, err := g.collection()
	if err != nil {
		return err
	}

	if _, err := coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateHash
		}
		return fmt.Errorf("%w: insert: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// UpdateStatusByHash upgrades the confirmation status of a stored record,
// leaving its identity untouched.
func (g *Gateway) UpdateStatusByHash(ctx context.Context, hash string, status domain.TxStatus, blockNumber *int64) error {
	coll, err := g.collection()
	if err != nil {
		return err
	}

	set := bson.M{"status": status}
	if blockNumber != nil {
		set["blockNumber"] = *blockNumber
	}
	if _, err := coll.UpdateOne(ctx, bson.M{"hash": hash}, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("%w: update status: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// FindAll returns stored records sorted by time descending.
func (g *Gateway) FindAll(ctx context.Context, limit, skip int64) ([]domain.TransactionRecord, error) {
	coll, err := g.collection()
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bsonD("timestamp", -1)).
		SetLimit(limit).
		SetSkip(skip)
	cur, err := coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find all: %v", domain.ErrStoreUnavailable, err)
	}

	var recs []domain.TransactionRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrStoreUnavailable, err)
	}
	return recs, nil
}

func (g *Gateway) Count(ctx context.Context) (int64, error) {
	coll, err := g.collection()
	if err != nil {
		return 0, err
	}

	n, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrStoreUnavailable, err)
	}
	return n, nil
}

// SumAmounts folds every stored display amount into one normalized total.
// Amounts persist in their display form, so the fold runs client-side
// through the amount parser rather than in an aggregation pipeline.
func (g *Gateway) SumAmounts(ctx context.Context) (decimal.Decimal, error) {
	coll, err := g.collection()
	if err != nil {
		return decimal.Zero, err
	}

	opts := options.Find().SetProjection(bson.M{"amount": 1, "_id": 0})
	cur, err := coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: sum amounts: %v", domain.ErrStoreUnavailable, err)
	}

	var docs []struct {
		Amount string `bson:"amount"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode amounts: %v", domain.ErrStoreUnavailable, err)
	}

	amounts := make([]string, 0, len(docs))
	for _, d := range docs {
		amounts = append(amounts, d.Amount)
	}
	return amount.Sum(amounts), nil
}

// DeleteByHash removes a record. Administrative path only; the ledger is
// append-only in normal operation.
func (g *Gateway) DeleteByHash(ctx context.Context, hash string) error {
	coll, err := g.collection()
	if err != nil {
		return err
	}

	res, err := coll.DeleteOne(ctx, bson.M{"hash": hash})
	if err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrStoreUnavailable, err)
	}
	if res.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
