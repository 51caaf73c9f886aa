// internal/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reliefledger/internal/amount"
	"reliefledger/internal/domain"
)

// Store is the durable gateway surface the ledger drives. Implementations
// must tolerate being probed while unreachable.
type Store interface {
	Ready(ctx context.Context) bool
	FindByHash(ctx context.Context, hash string) (*domain.TransactionRecord, error)
	Insert(ctx context.Context, rec domain.TransactionRecord) error
	UpdateStatusByHash(ctx context.Context, hash string, status domain.TxStatus, blockNumber *int64) error
	FindAll(ctx context.Context, limit, skip int64) ([]domain.TransactionRecord, error)
	Count(ctx context.Context) (int64, error)
	SumAmounts(ctx context.Context) (decimal.Decimal, error)
	DeleteByHash(ctx context.Context, hash string) error
}

// Recorder produces a canonical record for an explicit payment.
type Recorder interface {
	Record(ctx context.Context, p domain.Payment, sendReal bool) (domain.TransactionRecord, error)
}

// BalanceReader is the slice of the chain client used for wallet info.
type BalanceReader interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
}

// Snapshot is one consistent read of the ledger.
type Snapshot struct {
	Transactions []domain.TransactionRecord `json:"transactions"`
	TotalCount   int64                      `json:"totalCount"`
	TotalAid     string                     `json:"totalAid"`
	LatestBlock  int64                      `json:"latestBlock"`
	IsDurable    bool                       `json:"isDurable"`
}

// WalletInfo describes the fund wallet for external callers.
type WalletInfo struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

const defaultCacheSize = 50

// Ledger reconciles the explicit payment path and the chain discovery path
// into one canonical, deduplicated transaction list. It owns the bounded
// in-memory cache, the processed-hash set and the durable store handle; no
// other component mutates them. Both entry points are safe to call
// concurrently: the processed-hash registration for an explicit payment
// always lands before any racing chain batch with the same hash is
// evaluated, because both run under the same mutex.
type Ledger struct {
	recorder Recorder
	chain    BalanceReader // nil without chain access
	wallet   string
	logger   *zap.Logger

	mu          sync.Mutex
	cache       []domain.TransactionRecord
	processed   map[string]struct{}
	store       Store // nil until attached
	latestBlock int64

	cacheSize int
}

func New(rec Recorder, chain BalanceReader, walletAddress string, logger *zap.Logger) *Ledger {
	return &Ledger{
		recorder:  rec,
		chain:     chain,
		wallet:    walletAddress,
		logger:    logger,
		processed: make(map[string]struct{}),
		cacheSize: defaultCacheSize,
	}
}

// SetPageSize overrides the default page size, which also bounds the
// in-memory cache window. Intended for bootstrap, before traffic arrives.
func (l *Ledger) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	l.cacheSize = n
	l.mu.Unlock()
}

// AttachStore hands the ledger a store gateway. Callers that learn the store
// became reachable out of band (the delayed startup retry loop) use this as
// the re-initialization hook; attaching before the gateway is connected is
// fine, since liveness is re-probed on every read and write.
func (l *Ledger) AttachStore(s Store) {
	l.mu.Lock()
	l.store = s
	l.mu.Unlock()
	l.logger.Info("durable store attached to ledger")
}

// IsDurable reports whether reads are currently backed by the store.
func (l *Ledger) IsDurable(ctx context.Context) bool {
	return l.availableStore(ctx) != nil
}

func (l *Ledger) availableStore(ctx context.Context) Store {
	l.mu.Lock()
	s := l.store
	l.mu.Unlock()
	if s == nil || !s.Ready(ctx) {
		return nil
	}
	return s
}

// RecordPayment runs the explicit payment path: delegate to the recorder,
// register the hash so the monitor cannot re-emit it, make the record
// visible through the cache, then persist best-effort. Only an invalid
// payment fails the caller.
func (l *Ledger) RecordPayment(ctx context.Context, p domain.Payment) (domain.TransactionRecord, error) {
	rec, err := l.recorder.Record(ctx, p, true)
	if err != nil {
		return domain.TransactionRecord{}, err
	}

	l.mu.Lock()
	l.processed[rec.Hash] = struct{}{}
	if i := l.indexOfHashLocked(rec.Hash); i >= 0 {
		// The monitor discovered this transfer first; keep one record,
		// preferring the explicit path's payer detail and the stronger status
		if l.cache[i].Status == domain.TxStatusVerified {
			rec.Status = domain.TxStatusVerified
			if rec.BlockNumber == nil {
				rec.BlockNumber = l.cache[i].BlockNumber
			}
		}
		l.cache[i] = rec
	} else {
		l.prependLocked(rec)
	}
	if rec.BlockNumber != nil && *rec.BlockNumber > l.latestBlock {
		l.latestBlock = *rec.BlockNumber
	}
	l.mu.Unlock()

	l.persist(ctx, rec)
	return rec, nil
}

// OnChainBatch merges chain-discovered records. Hashes already registered by
// the explicit path are not re-emitted as new records; if the discovery
// carries a verified receipt for a still-pending record, the existing record
// is upgraded in place instead.
func (l *Ledger) OnChainBatch(ctx context.Context, recs []domain.TransactionRecord) {
	var fresh, upgrades []domain.TransactionRecord

	l.mu.Lock()
	for _, rec := range recs {
		if rec.BlockNumber != nil && *rec.BlockNumber > l.latestBlock {
			l.latestBlock = *rec.BlockNumber
		}
		if _, seen := l.processed[rec.Hash]; seen || l.hashCachedLocked(rec.Hash) {
			if upgraded, ok := l.upgradeLocked(rec); ok {
				upgrades = append(upgrades, upgraded)
			}
			continue
		}
		l.prependLocked(rec)
		fresh = append(fresh, rec)
	}
	l.mu.Unlock()

	for _, rec := range fresh {
		l.persist(ctx, rec)
	}
	for _, rec := range upgrades {
		if s := l.availableStore(ctx); s != nil {
			if err := s.UpdateStatusByHash(ctx, rec.Hash, rec.Status, rec.BlockNumber); err != nil {
				l.logger.Warn("failed to persist status upgrade",
					zap.String("hash", rec.Hash),
					zap.Error(err))
			}
		}
	}
}

// Run consumes monitor batches until the channel closes or the context
// ends. Stopping the monitor closes the channel and ends the loop without
// touching in-flight explicit payments.
func (l *Ledger) Run(ctx context.Context, batches <-chan []domain.TransactionRecord) {
	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				return
			}
			l.OnChainBatch(ctx, batch)
		case <-ctx.Done():
			return
		}
	}
}

// persist writes a record to the store if reachable. Failures are logged,
// never surfaced: the record is already visible through the cache. The
// pre-insert hash lookup is the durable fallback for the processed-hash
// guarantee across process restarts.
func (l *Ledger) persist(ctx context.Context, rec domain.TransactionRecord) {
	s := l.availableStore(ctx)
	if s == nil {
		return
	}

	existing, err := s.FindByHash(ctx, rec.Hash)
	if err != nil {
		l.logger.Warn("store lookup failed, record kept in memory only",
			zap.String("hash", rec.Hash),
			zap.Error(err))
		return
	}
	if existing != nil {
		// A restart loses the processed set, so a confirmation can arrive
		// here instead of the upgrade path; the stored document still moves
		// forward
		if existing.Status == domain.TxStatusPending && rec.Status == domain.TxStatusVerified {
			if err := s.UpdateStatusByHash(ctx, rec.Hash, rec.Status, rec.BlockNumber); err != nil {
				l.logger.Warn("failed to persist status upgrade",
					zap.String("hash", rec.Hash),
					zap.Error(err))
			}
			return
		}
		l.logger.Debug("hash already persisted, skipping insert", zap.String("hash", rec.Hash))
		return
	}

	if err := s.Insert(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrDuplicateHash) {
			// Lost the race to a concurrent writer; the document exists
			return
		}
		l.logger.Warn("store insert failed, record kept in memory only",
			zap.String("hash", rec.Hash),
			zap.Error(err))
	}
}

// ListTransactions merges store-backed records with the cache and returns a
// bounded page plus totals. With the store reachable, totals come from the
// store; the cache is only a recency window. Without it, the call degrades
// to cache-derived data and flags the snapshot non-durable.
func (l *Ledger) ListTransactions(ctx context.Context, limit int) (Snapshot, error) {
	if limit <= 0 {
		l.mu.Lock()
		limit = l.cacheSize
		l.mu.Unlock()
	}

	s := l.availableStore(ctx)
	if s == nil {
		return l.memorySnapshot(limit), nil
	}

	dbList, err := s.FindAll(ctx, int64(limit), 0)
	if err != nil {
		l.logger.Warn("store read failed, serving cache", zap.Error(err))
		return l.memorySnapshot(limit), nil
	}
	count, err := s.Count(ctx)
	if err != nil {
		l.logger.Warn("store count failed, serving cache", zap.Error(err))
		return l.memorySnapshot(limit), nil
	}
	total, err := s.SumAmounts(ctx)
	if err != nil {
		l.logger.Warn("store aggregation failed, serving cache", zap.Error(err))
		return l.memorySnapshot(limit), nil
	}

	l.mu.Lock()
	merged := mergeByHash(dbList, l.cache)
	sortNewestFirst(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	// The merged page replaces the cache, keeping it self-correcting and bounded
	l.cache = append(l.cache[:0:0], merged...)
	latest := l.latestBlock
	l.mu.Unlock()

	return Snapshot{
		Transactions: merged,
		TotalCount:   count,
		TotalAid:     amount.Format(total, "$"),
		LatestBlock:  latest,
		IsDurable:    true,
	}, nil
}

func (l *Ledger) memorySnapshot(limit int) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := append([]domain.TransactionRecord(nil), l.cache...)
	sortNewestFirst(list)
	if len(list) > limit {
		list = list[:limit]
	}

	amounts := make([]string, 0, len(l.cache))
	for _, rec := range l.cache {
		amounts = append(amounts, rec.Amount)
	}

	return Snapshot{
		Transactions: list,
		TotalCount:   int64(len(l.cache)),
		TotalAid:     amount.Format(amount.Sum(amounts), "$"),
		LatestBlock:  l.latestBlock,
		IsDurable:    false,
	}
}

// WalletInfo returns the fund wallet address and its live balance. Balance
// lookups degrade to "0" without chain access.
func (l *Ledger) WalletInfo(ctx context.Context) WalletInfo {
	info := WalletInfo{Address: l.wallet, Balance: "0 ETH"}
	if l.chain == nil {
		return info
	}

	bal, err := l.chain.Balance(ctx, l.wallet)
	if err != nil {
		l.logger.Warn("wallet balance lookup failed", zap.Error(err))
		return info
	}

	eth := new(big.Float).Quo(new(big.Float).SetInt(bal), big.NewFloat(params.Ether))
	info.Balance = eth.Text('f', -1) + " ETH"
	return info
}

// RemoveTransaction deletes a record from the store and the cache.
// Administrative path only, requires a reachable store.
func (l *Ledger) RemoveTransaction(ctx context.Context, hash string) error {
	s := l.availableStore(ctx)
	if s == nil {
		return domain.ErrStoreUnavailable
	}
	if err := s.DeleteByHash(ctx, hash); err != nil {
		return err
	}

	l.mu.Lock()
	kept := l.cache[:0]
	for _, rec := range l.cache {
		if rec.Hash != hash {
			kept = append(kept, rec)
		}
	}
	l.cache = kept
	delete(l.processed, hash)
	l.mu.Unlock()
	return nil
}

func (l *Ledger) prependLocked(rec domain.TransactionRecord) {
	l.cache = append([]domain.TransactionRecord{rec}, l.cache...)
	if len(l.cache) > l.cacheSize {
		l.cache = l.cache[:l.cacheSize]
	}
}

func (l *Ledger) hashCachedLocked(hash string) bool {
	return l.indexOfHashLocked(hash) >= 0
}

func (l *Ledger) indexOfHashLocked(hash string) int {
	for i := range l.cache {
		if l.cache[i].Hash == hash {
			return i
		}
	}
	return -1
}

// upgradeLocked applies a pending-to-verified transition to the cached
// record matching the incoming hash. Identity (id, hash) never changes. A
// hash that fell out of the bounded cache still returns an upgrade so the
// confirmation reaches the stored document.
func (l *Ledger) upgradeLocked(incoming domain.TransactionRecord) (domain.TransactionRecord, bool) {
	if incoming.Status != domain.TxStatusVerified {
		return domain.TransactionRecord{}, false
	}
	for i := range l.cache {
		if l.cache[i].Hash != incoming.Hash {
			continue
		}
		if l.cache[i].Status == domain.TxStatusVerified {
			return domain.TransactionRecord{}, false
		}
		l.cache[i].Status = domain.TxStatusVerified
		if incoming.BlockNumber != nil {
			l.cache[i].BlockNumber = incoming.BlockNumber
		}
		l.logger.Info("transaction verified by chain discovery", zap.String("hash", incoming.Hash))
		return l.cache[i], true
	}
	return incoming, true
}

// mergeByHash folds the store page and the cache into one deduplicated set.
// Hash is the identity key: two records with the same hash are the same
// logical event even when the two channels minted different display IDs.
// Cache entries win on conflict: they are fresher than a store read that may
// lag by write latency.
func mergeByHash(dbList, cache []domain.TransactionRecord) []domain.TransactionRecord {
	merged := make([]domain.TransactionRecord, 0, len(dbList)+len(cache))
	index := make(map[string]int, len(dbList))

	for _, rec := range dbList {
		index[rec.Hash] = len(merged)
		merged = append(merged, rec)
	}
	for _, rec := range cache {
		if i, ok := index[rec.Hash]; ok {
			merged[i] = rec
			continue
		}
		index[rec.Hash] = len(merged)
		merged = append(merged, rec)
	}
	return merged
}

func sortNewestFirst(recs []domain.TransactionRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
}
