// internal/store/store.go
package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"reliefledger/internal/domain"
)

// State tracks the gateway's connection lifecycle.
type State int

const (
	StateNotConnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "not_connected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

const (
	collectionName = "transactions"
	dialTimeout    = 10 * time.Second
	probeTimeout   = 2 * time.Second
	probeInterval  = 30 * time.Second
)

// Startup retry schedule. After exhaustion the gateway lands in Degraded and
// the process keeps serving from memory.
var retryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second}

// Gateway wraps the document store holding transaction records. It is safe
// to use in three states: never connected, connected, and disconnected after
// having connected. Liveness is re-probed on use; a past failure is never
// cached as a permanent verdict.
type Gateway struct {
	uri      string
	database string
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	attempt   int
	lastProbe time.Time
	client    *mongo.Client
	txns      *mongo.Collection
}

func New(uri, database string, logger *zap.Logger) *Gateway {
	return &Gateway{uri: uri, database: database, logger: logger}
}

func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gateway) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// Connect dials the store, trying strict TLS first and falling back once to
// relaxed certificate verification. The relaxed dial is a compatibility
// fallback for older self-hosted deployments, never the default. The first
// successful connect ensures the collection indexes.
func (g *Gateway) Connect(ctx context.Context) error {
	client, err := g.dial(ctx, false)
	if err != nil {
		g.logger.Warn("strict TLS connect failed, retrying with relaxed verification", zap.Error(err))
		client, err = g.dial(ctx, true)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	txns := client.Database(g.database).Collection(collectionName)
	if err := ensureIndexes(ctx, txns); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("%w: ensure indexes: %v", domain.ErrStoreUnavailable, err)
	}

	g.mu.Lock()
	replaced := g.client
	g.client = client
	g.txns = txns
	g.state = StateConnected
	g.mu.Unlock()

	// A lazy re-probe can race the startup retry loop; the dial that loses
	// must not leak its client
	if replaced != nil && replaced != client {
		_ = replaced.Disconnect(context.Background())
	}

	g.logger.Info("durable store connected", zap.String("database", g.database))
	return nil
}

func (g *Gateway) dial(ctx context.Context, relaxedTLS bool) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(g.uri).
		SetServerSelectionTimeout(5 * time.Second)
	if relaxedTLS {
		opts = opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := mongo.Connect(dctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(dctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// ConnectWithRetry runs the startup backoff loop. The process continues in
// memory-only mode after exhaustion rather than failing to start.
func (g *Gateway) ConnectWithRetry(ctx context.Context) error {
	for i := 0; ; i++ {
		g.mu.Lock()
		g.state = StateConnecting
		g.attempt = i + 1
		g.mu.Unlock()

		err := g.Connect(ctx)
		if err == nil {
			return nil
		}
		if i >= len(retryDelays) {
			g.setState(StateDegraded)
			g.logger.Error("durable store unreachable after retries, continuing in memory-only mode",
				zap.Int("attempts", i+1))
			return fmt.Errorf("%w: retries exhausted", domain.ErrStoreUnavailable)
		}

		g.logger.Warn("store connection attempt failed",
			zap.Int("attempt", i+1),
			zap.Duration("next_retry", retryDelays[i]),
			zap.Error(err))

		select {
		case <-time.After(retryDelays[i]):
		case <-ctx.Done():
			g.setState(StateDegraded)
			return ctx.Err()
		}
	}
}

// Ready re-probes the live connection. When the store dropped after having
// connected, a successful ping flips the gateway back to Connected. When it
// never connected, a fresh dial is attempted at most every probeInterval so
// reads stay fast while the store is down.
func (g *Gateway) Ready(ctx context.Context) bool {
	g.mu.Lock()
	client := g.client
	state := g.state
	g.mu.Unlock()

	if client != nil {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		if err := client.Ping(pctx, readpref.Primary()); err != nil {
			if state == StateConnected {
				g.setState(StateDegraded)
				g.logger.Warn("durable store connection lost", zap.Error(err))
			}
			return false
		}
		if state != StateConnected {
			g.setState(StateConnected)
			g.logger.Info("durable store connection restored")
		}
		return true
	}

	if state == StateConnecting {
		// Startup retry loop owns the dial
		return false
	}

	g.mu.Lock()
	if time.Since(g.lastProbe) < probeInterval {
		g.mu.Unlock()
		return false
	}
	g.lastProbe = time.Now()
	g.mu.Unlock()

	return g.Connect(ctx) == nil
}

func (g *Gateway) collection() (*mongo.Collection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.txns == nil {
		return nil, domain.ErrStoreUnavailable
	}
	return g.txns, nil
}

func ensureIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bsonD("hash", 1),
			Options: options.Index().SetUnique(true),
		},
		{Keys: bsonD("timestamp", -1)},
		{Keys: bsonD("donor", 1)},
		{Keys: bsonD("region", 1)},
		{
			Keys:    bsonD("paymentRef", 1),
			Options: options.Index().SetSparse(true),
		},
	})
	return err
}
