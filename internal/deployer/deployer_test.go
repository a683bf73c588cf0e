package deployer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/popdeploy/internal/artifact"
	"github.com/Bidon15/popdeploy/internal/credential"
	"github.com/Bidon15/popdeploy/internal/network"
)

// simulatedChainID is the chain ID of go-ethereum's simulated backend.
const simulatedChainID = 1337

// Creation code that deploys the one-byte runtime 0x00.
const gameContractJSON = `{
	"contractName": "GameContract",
	"abi": [{"inputs": [], "stateMutability": "nonpayable", "type": "constructor"}],
	"bytecode": "0x6001600c60003960016000f300"
}`

// Creation code that always reverts.
const reverterJSON = `{
	"contractName": "Reverter",
	"abi": [],
	"bytecode": "0x60006000fd"
}`

const tokenJSON = `{
	"contractName": "Token",
	"abi": [{"inputs": [{"name": "supply", "type": "uint256"}], "stateMutability": "nonpayable", "type": "constructor"}],
	"bytecode": "0x6001600c60003960016000f300"
}`

// simClient adapts the simulated backend to Client. With autoMine set, every
// accepted transaction is sealed into a block straight away and every block
// height query advances the chain by one block.
type simClient struct {
	simulated.Client
	backend  *simulated.Backend
	autoMine bool
}

func (c *simClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	if c.autoMine {
		c.backend.Commit()
	}
	return nil
}

func (c *simClient) BlockNumber(ctx context.Context) (uint64, error) {
	if c.autoMine {
		c.backend.Commit()
	}
	return c.Client.BlockNumber(ctx)
}

func (c *simClient) Close() {}

// legacyClient hides the base fee so the deployer builds legacy transactions.
type legacyClient struct {
	*simClient
}

func (c legacyClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	h, err := c.simClient.HeaderByNumber(ctx, number)
	if h != nil {
		h = types.CopyHeader(h)
		h.BaseFee = nil
	}
	return h, err
}

// stallingClient answers until the selected call, which blocks until its
// context is done.
type stallingClient struct {
	*simClient
	stallEstimate bool
	stallSend     bool
}

func (c stallingClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if c.stallEstimate {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return c.simClient.EstimateGas(ctx, msg)
}

func (c stallingClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if c.stallSend {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.simClient.SendTransaction(ctx, tx)
}

type staticFactory struct {
	mu     sync.Mutex
	client Client
	err    error
	dials  int
}

func (f *staticFactory) Dial(_ context.Context, _ string) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type testChain struct {
	backend *simulated.Backend
	client  *simClient
	funded  *credential.Credential
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cred, err := credential.FromKey(key)
	require.NoError(t, err)

	backend := simulated.NewBackend(types.GenesisAlloc{
		cred.Address(): {Balance: new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))},
	})
	t.Cleanup(func() { _ = backend.Close() })

	return &testChain{
		backend: backend,
		client:  &simClient{Client: backend.Client(), backend: backend, autoMine: true},
		funded:  cred,
	}
}

func (c *testChain) deployer(t *testing.T, cfg Config) *Deployer {
	t.Helper()
	if cfg.Clients == nil {
		cfg.Clients = &staticFactory{client: c.client}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	return New(cfg)
}

func mustParse(t *testing.T, data string) *artifact.Artifact {
	t.Helper()
	a, err := artifact.Parse([]byte(data))
	require.NoError(t, err)
	return a
}

func localNetwork() network.Network {
	return network.Network{
		Name:       "simulated",
		URL:        "http://simulated.invalid",
		ChainID:    simulatedChainID,
		Credential: "env:DEPLOYER_PK",
	}
}

func newCredential(t *testing.T) *credential.Credential {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cred, err := credential.FromKey(key)
	require.NoError(t, err)
	return cred
}

func TestDeploy_EstimatedGas(t *testing.T) {
	chain := newTestChain(t)
	d := chain.deployer(t, Config{})
	ctx := context.Background()

	res, err := d.Deploy(ctx, &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    localNetwork(),
		Credential: chain.funded,
	})
	require.NoError(t, err)

	assert.True(t, common.IsHexAddress(res.ContractAddress.Hex()))
	assert.NotEqual(t, common.Address{}, res.ContractAddress)
	assert.Equal(t, crypto.CreateAddress(chain.funded.Address(), 0), res.ContractAddress)
	assert.Equal(t, chain.funded.Address(), res.Deployer)
	assert.Equal(t, "GameContract", res.Contract)
	assert.Equal(t, "simulated", res.Network)
	assert.Equal(t, int64(simulatedChainID), res.ChainID.Int64())
	assert.True(t, res.GasEstimated)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.ExplorerURL)

	require.NotNil(t, res.Receipt)
	assert.GreaterOrEqual(t, res.Receipt.BlockNumber.Uint64(), uint64(1))
	assert.Equal(t, res.Receipt.BlockNumber.Uint64(), res.BlockNumber)
	assert.Equal(t, types.ReceiptStatusSuccessful, res.Receipt.Status)
	assert.Equal(t, res.TransactionHash, res.Receipt.TxHash)

	code, err := chain.client.CodeAt(ctx, res.ContractAddress, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, code)

	tx, pending, err := chain.client.TransactionByHash(ctx, res.TransactionHash)
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Nil(t, tx.To())
	assert.Equal(t, res.GasLimit, tx.Gas())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
}

func TestDeploy_GasLimitOverride(t *testing.T) {
	chain := newTestChain(t)
	d := chain.deployer(t, Config{})
	ctx := context.Background()

	for _, limit := range []uint64{100_000, 250_000, 1_000_000} {
		res, err := d.Deploy(ctx, &Request{
			Artifact:   mustParse(t, gameContractJSON),
			Network:    localNetwork(),
			Credential: chain.funded,
			GasLimit:   limit,
		})
		require.NoError(t, err)

		assert.False(t, res.GasEstimated)
		assert.Equal(t, limit, res.GasLimit)

		tx, _, err := chain.client.TransactionByHash(ctx, res.TransactionHash)
		require.NoError(t, err)
		assert.Equal(t, limit, tx.Gas(), "transmitted gas limit must equal the override")
	}
}

func TestDeploy_LegacyTransaction(t *testing.T) {
	chain := newTestChain(t)
	d := chain.deployer(t, Config{Clients: &staticFactory{client: legacyClient{chain.client}}})
	ctx := context.Background()

	res, err := d.Deploy(ctx, &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    localNetwork(),
		Credential: chain.funded,
	})
	require.NoError(t, err)

	tx, _, err := chain.client.TransactionByHash(ctx, res.TransactionHash)
	require.NoError(t, err)
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.True(t, tx.Protected())
}

func TestDeploy_ZeroBalance(t *testing.T) {
	chain := newTestChain(t)
	d := chain.deployer(t, Config{})
	ctx := context.Background()

	broke := newCredential(t)
	_, err := d.Deploy(ctx, &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    localNetwork(),
		Credential: broke,
	})
	require.Error(t, err)
	assert.Equal(t, KindSubmissionRejected, KindOf(err))
	assert.ErrorIs(t, err, ErrSubmissionRejected)

	nonce, err := chain.client.PendingNonceAt(ctx, broke.Address())
	require.NoError(t, err)
	assert.Zero(t, nonce)
}

func TestDeploy_NetworkUnreachable(t *testing.T) {
	d := New(Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		DialTimeout: 2 * time.Second,
	})

	req := &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    network.Network{Name: "down", URL: "http://127.0.0.1:1", Credential: "env:DEPLOYER_PK"},
		Credential: newCredential(t),
	}

	// Unchanged request against a still unreachable endpoint fails the same way.
	for i := 0; i < 2; i++ {
		_, err := d.Deploy(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, KindNetworkUnreachable, KindOf(err))
		assert.ErrorIs(t, err, ErrNetworkUnreachable)
	}
}

func TestDeploy_DialError(t *testing.T) {
	factory := &staticFactory{err: errors.New("no route to host")}
	d := New(Config{Clients: factory, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	_, err := d.Deploy(context.Background(), &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    localNetwork(),
		Credential: newCredential(t),
	})
	require.Error(t, err)
	assert.Equal(t, KindNetworkUnreachable, KindOf(err))
	assert.Contains(t, err.Error(), "no route to host")
	assert.Equal(t, 1, factory.dials)
}

func TestDeploy_ChainIDMismatch(t *testing.T) {
	chain := newTestChain(t)
	d := chain.deployer(t, Config{})
	ctx := context.Background()

	n := localNetwork()
	n.ChainID = 288

	_, err := d.Deploy(ctx, &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    n,
		Credential: chain.funded,
	})
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Contains(t, err.Error(), "chain ID mismatch")

	nonce, err := chain.client.PendingNonceAt(ctx, chain.funded.Address())
	require.NoError(t, err)
	assert.Zero(t, nonce)
}

func TestDeploy_ChainIDUnchecked(t *testing.T) {
	chain := newTestChain(t)
	d := chain.deployer(t, Config{})

	n := localNetwork()
	n.ChainID = 0

	res, err := d.Deploy(context.Background(), &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    n,
		Credential: chain.funded,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(simulatedChainID), res.ChainID.Int64())
}

func TestDeploy_ConfirmationTimeout(t *testing.T) {
	chain := newTestChain(t)
	chain.client.autoMine = false
	d := chain.deployer(t, Config{ConfirmTimeout: 300 * time.Millisecond})
	ctx := context.Background()

	_, err := d.Deploy(ctx, &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    localNetwork(),
		Credential: chain.funded,
	})
	require.Error(t, err)
	assert.Equal(t, KindConfirmationTimeout, KindOf(err))
	assert.ErrorIs(t, err, ErrConfirmationTimeout)

	var de *Error
	require.True(t, errors.As(err, &de))
	require.NotEqual(t, common.Hash{}, de.TxHash)

	// The transaction is still pending and may land after the tool gave up.
	chain.backend.Commit()
	receipt, err := chain.client.TransactionReceipt(ctx, de.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

func TestDeploy_RequestTimeout(t *testing.T) {
	tests := []struct {
		name     string
		client   func(*simClient) Client
		wantOp   string
		wantHash bool
	}{
		{
			name:   "stalled gas estimate",
			client: func(c *simClient) Client { return stallingClient{simClient: c, stallEstimate: true} },
			wantOp: "estimate gas",
		},
		{
			name:     "stalled submission",
			client:   func(c *simClient) Client { return stallingClient{simClient: c, stallSend: true} },
			wantOp:   "send transaction",
			wantHash: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			chain := newTestChain(t)
			d := chain.deployer(t, Config{
				Clients:        &staticFactory{client: tc.client(chain.client)},
				DialTimeout:    200 * time.Millisecond,
				RequestTimeout: 200 * time.Millisecond,
				ConfirmTimeout: time.Minute,
			})

			done := make(chan error, 1)
			go func() {
				_, err := d.Deploy(context.Background(), &Request{
					Artifact:   mustParse(t, gameContractJSON),
					Network:    localNetwork(),
					Credential: chain.funded,
				})
				done <- err
			}()

			var err error
			select {
			case err = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("deployment did not give up on a stalled node")
			}

			require.Error(t, err)
			assert.Equal(t, KindNetworkUnreachable, KindOf(err))
			assert.ErrorIs(t, err, ErrNetworkUnreachable)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Contains(t, err.Error(), tc.wantOp)

			var de *Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tc.wantHash, de.TxHash != common.Hash{})

			nonce, err := chain.client.PendingNonceAt(context.Background(), chain.funded.Address())
			require.NoError(t, err)
			assert.Zero(t, nonce)
		})
	}
}

func TestDeploy_CallerCancellation(t *testing.T) {
	chain := newTestChain(t)
	chain.client.autoMine = false
	d := chain.deployer(t, Config{ConfirmTimeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := d.Deploy(ctx, &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    localNetwork(),
		Credential: chain.funded,
	})
	require.Error(t, err)
	assert.Equal(t, KindConfirmationTimeout, KindOf(err))
}

func TestDeploy_Reverted(t *testing.T) {
	chain := newTestChain(t)
	d := chain.deployer(t, Config{})

	t.Run("with gas override the revert happens on chain", func(t *testing.T) {
		_, err := d.Deploy(context.Background(), &Request{
			Artifact:   mustParse(t, reverterJSON),
			Network:    localNetwork(),
			Credential: chain.funded,
			GasLimit:   100_000,
		})
		require.Error(t, err)
		assert.Equal(t, KindTransactionReverted, KindOf(err))
		assert.ErrorIs(t, err, ErrTransactionReverted)

		var de *Error
		require.True(t, errors.As(err, &de))
		assert.NotEqual(t, common.Hash{}, de.TxHash)
	})

	t.Run("without override estimation rejects it", func(t *testing.T) {
		_, err := d.Deploy(context.Background(), &Request{
			Artifact:   mustParse(t, reverterJSON),
			Network:    localNetwork(),
			Credential: chain.funded,
		})
		require.Error(t, err)
		assert.Equal(t, KindSubmissionRejected, KindOf(err))
		assert.Contains(t, err.Error(), "estimate gas")
	})
}

func TestDeploy_GasOverrideBelowIntrinsic(t *testing.T) {
	chain := newTestChain(t)
	d := chain.deployer(t, Config{})

	_, err := d.Deploy(context.Background(), &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    localNetwork(),
		Credential: chain.funded,
		GasLimit:   21_000,
	})
	require.Error(t, err)
	assert.Equal(t, KindSubmissionRejected, KindOf(err))
	assert.Contains(t, err.Error(), "send transaction")
}

func TestDeploy_MissingCredential(t *testing.T) {
	chain := newTestChain(t)
	d := chain.deployer(t, Config{})

	_, err := d.Deploy(context.Background(), &Request{
		Artifact: mustParse(t, gameContractJSON),
		Network:  localNetwork(),
	})
	require.Error(t, err)
	assert.Equal(t, KindInvalidCredential, KindOf(err))
	assert.ErrorIs(t, err, credential.ErrMissingCredential)
}

func TestDeploy_InvalidRequest(t *testing.T) {
	chain := newTestChain(t)
	factory := &staticFactory{client: chain.client}
	d := chain.deployer(t, Config{Clients: factory})

	tests := []struct {
		name string
		req  *Request
	}{
		{name: "nil request", req: nil},
		{name: "no artifact", req: &Request{Network: localNetwork(), Credential: chain.funded}},
		{name: "no endpoint", req: &Request{Artifact: mustParse(t, gameContractJSON), Network: network.Network{Name: "empty"}, Credential: chain.funded}},
		{name: "constructor needs arguments", req: &Request{Artifact: mustParse(t, tokenJSON), Network: localNetwork(), Credential: chain.funded}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Deploy(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, KindConfiguration, KindOf(err))
		})
	}

	// Configuration errors never reach the network.
	assert.Zero(t, factory.dials)
}

func TestDeploy_Confirmations(t *testing.T) {
	chain := newTestChain(t)
	d := chain.deployer(t, Config{Confirmations: 3})
	ctx := context.Background()

	res, err := d.Deploy(ctx, &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    localNetwork(),
		Credential: chain.funded,
	})
	require.NoError(t, err)

	head, err := chain.client.Client.BlockNumber(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, head, res.BlockNumber+2)
}

func TestDeploy_ExplorerURL(t *testing.T) {
	chain := newTestChain(t)
	d := chain.deployer(t, Config{})

	n := localNetwork()
	n.Explorer = &network.Explorer{APIURL: "https://api.example.com", BrowserURL: "https://scan.example.com/"}

	res, err := d.Deploy(context.Background(), &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    n,
		Credential: chain.funded,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://scan.example.com/address/"+res.ContractAddress.Hex(), res.ExplorerURL)
}

type recordingObserver struct {
	outcomes []string
	gasUsed  []uint64
}

func (o *recordingObserver) ObserveDeployment(_, outcome string, _ time.Duration) {
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveGasUsed(_ string, gas uint64) {
	o.gasUsed = append(o.gasUsed, gas)
}

func TestDeploy_Observer(t *testing.T) {
	chain := newTestChain(t)
	obs := &recordingObserver{}
	d := chain.deployer(t, Config{Observer: obs})
	ctx := context.Background()

	res, err := d.Deploy(ctx, &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    localNetwork(),
		Credential: chain.funded,
	})
	require.NoError(t, err)

	_, err = d.Deploy(ctx, &Request{
		Artifact:   mustParse(t, gameContractJSON),
		Network:    localNetwork(),
		Credential: newCredential(t),
	})
	require.Error(t, err)

	assert.Equal(t, []string{"success", "submission_rejected"}, obs.outcomes)
	assert.Equal(t, []uint64{res.GasUsed}, obs.gasUsed)
}
