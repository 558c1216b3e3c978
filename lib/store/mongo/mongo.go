// Package mongo implements the interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/stakewatch/lib/store"
)

const walletsCollection = "wallets"

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c   *mgo.Client
	col *mgo.Collection
}

// MongoWallet implements a store wallet to MongoDB. Balances are written as Decimal128 so no precision is lost, but
// wallets saved by earlier versions of the bot hold doubles, so both are read.
type MongoWallet struct {
	UserID    string        `bson:"user_id"`
	Addr      string        `bson:"wallet_address"`
	Previous  bson.RawValue `bson:"previous_balance"`
	Current   bson.RawValue `bson:"current_balance"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

// ErrBadBalance is returned for a balance field that is not a number.
var ErrBadBalance = errors.New("balance is not a number")

// Wallet converts a MongoWallet to store.Wallet type.
func (w MongoWallet) Wallet() (store.Wallet, error) {
	prev, err := balance(w.Previous)
	if err != nil {
		return store.Wallet{}, fmt.Errorf("bad previous_balance for %s: %w", w.Addr, err)
	}

	cur, err := balance(w.Current)
	if err != nil {
		return store.Wallet{}, fmt.Errorf("bad current_balance for %s: %w", w.Addr, err)
	}

	return store.Wallet{UserID: w.UserID, Address: w.Addr, Previous: prev, Current: cur, UpdatedAt: w.UpdatedAt}, nil
}

func balance(v bson.RawValue) (decimal.Decimal, error) {
	if d, ok := v.Decimal128OK(); ok {
		return decimal.NewFromString(d.String())
	}

	if f, ok := v.DoubleOK(); ok {
		return decimal.NewFromFloat(f), nil
	}

	if i, ok := v.Int32OK(); ok {
		return decimal.NewFromInt32(i), nil
	}

	if i, ok := v.Int64OK(); ok {
		return decimal.NewFromInt(i), nil
	}
	// a missing field reads as zero
	if v.Type == 0 || v.Type == bsontype.Null {
		return decimal.Zero, nil
	}

	return decimal.Zero, fmt.Errorf("%w: %s", ErrBadBalance, v.Type)
}

// New returns a Mongo client connection to the specified MongoDB database uri and database name. It makes sure the
// unique (user_id, wallet_address) index exists.
func New(uri, database string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	col := c.Database(database).Collection(walletsCollection)

	_, err = col.Indexes().CreateOne(ctx, mgo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "wallet_address", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = c.Disconnect(context.Background())

		return nil, fmt.Errorf("cannot create wallets index: %w", err)
	}

	return &Mongo{c: c, col: col}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func pair(user, address string) bson.M {
	return bson.M{"user_id": user, "wallet_address": address}
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

// SaveWallet upserts the wallet for the (user, address) pair setting both balances in one write.
func (m *Mongo) SaveWallet(ctx context.Context, w store.Wallet) error {
	prev, err := toDecimal128(w.Previous)
	if err != nil {
		return fmt.Errorf("cannot convert balance: %w", err)
	}

	cur, err := toDecimal128(w.Current)
	if err != nil {
		return fmt.Errorf("cannot convert balance: %w", err)
	}

	_, err = m.col.UpdateOne(ctx,
		pair(w.UserID, w.Address), // filter
		bson.D{ // update
			{
				Key: "$set", Value: bson.D{
					{Key: "previous_balance", Value: prev},
					{Key: "current_balance", Value: cur},
					{Key: "updated_at", Value: time.Now().UTC()},
				},
			},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save wallet in db: %w", err)
	}

	return nil
}

// DeleteWallet deletes a wallet from the database.
func (m *Mongo) DeleteWallet(ctx context.Context, user, address string) error {
	res, err := m.col.DeleteOne(ctx, pair(user, address))
	if err != nil {
		return fmt.Errorf("could not delete wallet from db: %w", err)
	}

	if res.DeletedCount != 1 {
		return store.ErrWalletNotFound
	}

	return nil
}

// GetWallets returns the wallets of a user.
func (m *Mongo) GetWallets(ctx context.Context, user string) ([]store.Wallet, error) {
	return m.find(ctx, bson.M{"user_id": user})
}

// AllWallets returns every tracked wallet.
func (m *Mongo) AllWallets(ctx context.Context) ([]store.Wallet, error) {
	return m.find(ctx, bson.M{})
}

func (m *Mongo) find(ctx context.Context, filter bson.M) ([]store.Wallet, error) {
	opts := options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}, {Key: "wallet_address", Value: 1}})

	docs, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error getting wallets from mongo DB: %w", err)
	}
	defer docs.Close(ctx)

	ws := []store.Wallet{}

	for docs.Next(ctx) {
		var mw MongoWallet
		if err = docs.Decode(&mw); err != nil {
			return nil, fmt.Errorf("cannot decode wallet: %w", err)
		}

		w, err := mw.Wallet()
		if err != nil {
			return nil, err
		}

		ws = append(ws, w)
	}

	return ws, docs.Err()
}

// CountWallets returns how many wallets a user has.
func (m *Mongo) CountWallets(ctx context.Context, user string) (int, error) {
	n, err := m.col.CountDocuments(ctx, bson.M{"user_id": user})
	if err != nil {
		return 0, fmt.Errorf("cannot count wallets: %w", err)
	}

	return int(n), nil
}

// UpdateBalance sets both balances in a single document update filtered on the expected current balance.
func (m *Mongo) UpdateBalance(ctx context.Context, user, address string, prev, cur decimal.Decimal) error {
	p, err := toDecimal128(prev)
	if err != nil {
		return fmt.Errorf("cannot convert balance: %w", err)
	}

	c, err := toDecimal128(cur)
	if err != nil {
		return fmt.Errorf("cannot convert balance: %w", err)
	}

	// legacy wallets hold the balance as a double
	filter := pair(user, address)
	filter["current_balance"] = bson.M{"$in": bson.A{p, prev.InexactFloat64()}}

	res, err := m.col.UpdateOne(ctx, filter, bson.D{
		{
			Key: "$set", Value: bson.D{
				{Key: "previous_balance", Value: p},
				{Key: "current_balance", Value: c},
				{Key: "updated_at", Value: time.Now().UTC()},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("could not update wallet balance: %w", err)
	}

	if res.MatchedCount == 1 {
		return nil
	}
	// tell a deleted wallet apart from a concurrent balance write
	n, err := m.col.CountDocuments(ctx, pair(user, address))
	if err != nil {
		return fmt.Errorf("could not update wallet balance: %w", err)
	}

	if n == 0 {
		return store.ErrWalletNotFound
	}

	return store.ErrWalletChanged
}

// Stats returns the number of wallets and distinct users.
func (m *Mongo) Stats(ctx context.Context) (store.Stats, error) {
	n, err := m.col.CountDocuments(ctx, bson.D{})
	if err != nil {
		return store.Stats{}, fmt.Errorf("cannot count wallets: %w", err)
	}

	users, err := m.col.Distinct(ctx, "user_id", bson.D{})
	if err != nil {
		return store.Stats{}, fmt.Errorf("cannot count users: %w", err)
	}

	return store.Stats{Wallets: int(n), Users: len(users)}, nil
}

// DropWallets deletes every wallet. Only used by tests.
func (m *Mongo) DropWallets(ctx context.Context) error {
	_, err := m.col.DeleteMany(ctx, bson.D{})

	return err
}
