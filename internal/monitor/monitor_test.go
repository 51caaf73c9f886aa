package monitor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reliefledger/internal/domain"
)

const fundWallet = "0x1111111111111111111111111111111111111111"

type fakeSource struct {
	latest   uint64
	blocks   map[uint64]*types.Block
	receipts map[common.Hash]*types.Receipt
	senders  map[common.Hash]string
	heads    chan *types.Header
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		blocks:   make(map[uint64]*types.Block),
		receipts: make(map[common.Hash]*types.Receipt),
		senders:  make(map[common.Hash]string),
		heads:    make(chan *types.Header, 8),
	}
}

func (f *fakeSource) SubscribeNewBlocks(ctx context.Context) (<-chan *types.Header, func(), error) {
	return f.heads, func() {}, nil
}

func (f *fakeSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeSource) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	b, ok := f.blocks[number]
	if !ok {
		return nil, errors.New("block not found")
	}
	return b, nil
}

func (f *fakeSource) TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	r, ok := f.receipts[common.HexToHash(txHash)]
	if !ok {
		return nil, errors.New("receipt not found")
	}
	return r, nil
}

func (f *fakeSource) Sender(tx *types.Transaction) (string, error) {
	s, ok := f.senders[tx.Hash()]
	if !ok {
		return "", errors.New("unknown sender")
	}
	return s, nil
}

// addBlock registers a block holding the given transactions, mapping each to
// its sender address.
func (f *fakeSource) addBlock(number uint64, blockTime uint64, txs []*types.Transaction, senders []string) {
	header := &types.Header{
		Number:     big.NewInt(int64(number)),
		Time:       blockTime,
		Difficulty: big.NewInt(0),
	}
	f.blocks[number] = types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs})
	for i, tx := range txs {
		f.senders[tx.Hash()] = senders[i]
	}
	if number > f.latest {
		f.latest = number
	}
}

func tx(nonce uint64, to string, wei int64) *types.Transaction {
	addr := common.HexToAddress(to)
	return types.NewTransaction(nonce, addr, big.NewInt(wei), 21000, big.NewInt(1e9), nil)
}

func TestFetchRecent_FiltersWalletTransactions(t *testing.T) {
	src := newFakeSource()

	incoming := tx(1, fundWallet, 5e17)                                          // donor -> fund
	outgoing := tx(2, "0x2222222222222222222222222222222222222222", 1e17)        // fund -> elsewhere
	unrelated := tx(3, "0x3333333333333333333333333333333333333333", 9e17)       // nothing to do with the fund
	src.addBlock(10, 1700000000, []*types.Transaction{incoming, outgoing, unrelated}, []string{
		"0x4444444444444444444444444444444444444444",
		fundWallet,
		"0x5555555555555555555555555555555555555555",
	})
	src.receipts[incoming.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful}

	m := New(src, fundWallet, zap.NewNop())
	recs, err := m.FetchRecent(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, recs, 2, "only transactions touching the fund wallet")

	byHash := map[string]domain.TransactionRecord{}
	for _, r := range recs {
		byHash[r.Hash] = r
	}

	in := byHash[incoming.Hash().Hex()]
	assert.Equal(t, domain.TxStatusVerified, in.Status, "successful receipt")
	require.NotNil(t, in.BlockNumber)
	assert.Equal(t, int64(10), *in.BlockNumber)
	assert.Equal(t, "0x4444...4444", in.Donor)
	assert.Equal(t, "0.5 ETH", in.Amount)
	assert.Contains(t, regionLabels, in.Region)

	out := byHash[outgoing.Hash().Hex()]
	assert.Equal(t, domain.TxStatusPending, out.Status, "no receipt means pending")
}

func TestFetchRecent_RegionIsDeterministic(t *testing.T) {
	src := newFakeSource()
	donation := tx(7, fundWallet, 1e18)
	src.addBlock(3, 1700000100, []*types.Transaction{donation}, []string{"0x6666666666666666666666666666666666666666"})

	m := New(src, fundWallet, zap.NewNop())
	first, err := m.FetchRecent(context.Background(), 10)
	require.NoError(t, err)
	second, err := m.FetchRecent(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Region, second[0].Region)
}

func TestFetchRecent_SkipsBadBlocks(t *testing.T) {
	src := newFakeSource()
	donation := tx(1, fundWallet, 2e18)
	src.addBlock(5, 1700000200, []*types.Transaction{donation}, []string{"0x7777777777777777777777777777777777777777"})
	src.latest = 7 // blocks 7 and 6 do not resolve

	m := New(src, fundWallet, zap.NewNop())
	recs, err := m.FetchRecent(context.Background(), 10)
	require.NoError(t, err, "missing blocks are skipped, not fatal")
	require.Len(t, recs, 1)
	assert.Equal(t, donation.Hash().Hex(), recs[0].Hash)
}

func TestStartAndStop(t *testing.T) {
	src := newFakeSource()
	donation := tx(1, fundWallet, 1e18)
	src.addBlock(20, 1700000300, []*types.Transaction{donation}, []string{"0x8888888888888888888888888888888888888888"})

	m := New(src, fundWallet, zap.NewNop())
	batches, err := m.Start(context.Background())
	require.NoError(t, err)

	src.heads <- &types.Header{Number: big.NewInt(20), Difficulty: big.NewInt(0)}

	select {
	case batch := <-batches:
		require.Len(t, batch, 1)
		assert.Equal(t, donation.Hash().Hex(), batch[0].Hash)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch delivered")
	}

	m.Stop()
	select {
	case _, open := <-batches:
		assert.False(t, open, "batch channel closes after Stop")
	case <-time.After(2 * time.Second):
		t.Fatal("batch channel did not close")
	}
}

func TestStart_BadBlockDoesNotStopSubscription(t *testing.T) {
	src := newFakeSource()
	donation := tx(2, fundWallet, 1e18)
	src.addBlock(31, 1700000400, []*types.Transaction{donation}, []string{"0x9999999999999999999999999999999999999999"})

	m := New(src, fundWallet, zap.NewNop())
	batches, err := m.Start(context.Background())
	require.NoError(t, err)
	defer m.Stop()

	// Block 30 cannot be fetched; block 31 still comes through
	src.heads <- &types.Header{Number: big.NewInt(30), Difficulty: big.NewInt(0)}
	src.heads <- &types.Header{Number: big.NewInt(31), Difficulty: big.NewInt(0)}

	select {
	case batch := <-batches:
		require.Len(t, batch, 1)
		assert.Equal(t, donation.Hash().Hex(), batch[0].Hash)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch delivered")
	}
}
