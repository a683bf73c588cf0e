// Package deployer submits contract-creation transactions and waits for them to confirm.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/Bidon15/popdeploy/internal/artifact"
	"github.com/Bidon15/popdeploy/internal/credential"
	"github.com/Bidon15/popdeploy/internal/network"
)

// Default deployment parameters
const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultConfirmTimeout = 5 * time.Minute
	DefaultConfirmations  = 1
	DefaultPollInterval   = 2 * time.Second
)

// Observer receives deployment outcomes, e.g. for metrics.
type Observer interface {
	ObserveDeployment(network, outcome string, elapsed time.Duration)
	ObserveGasUsed(network string, gas uint64)
}

// Config configures a Deployer.
type Config struct {
	// Clients dials RPC endpoints. Defaults to ethclient.
	Clients ClientFactory

	// Logger for structured logging
	Logger *slog.Logger

	// Observer is optional.
	Observer Observer

	// DialTimeout bounds connecting and the liveness query.
	DialTimeout time.Duration

	// RequestTimeout bounds the balance, gas, fee and submission round trips.
	RequestTimeout time.Duration

	// ConfirmTimeout bounds the wait for the transaction to confirm.
	ConfirmTimeout time.Duration

	// Confirmations is the number of blocks, including the inclusion block,
	// required before the deployment counts as confirmed.
	Confirmations uint64

	// PollInterval between block height checks while waiting for confirmations.
	PollInterval time.Duration
}

// Deployer runs single contract deployments. It holds no per-deployment
// state; deployments from the same credential must still be serialized by
// the caller to avoid nonce collisions.
type Deployer struct {
	clients        ClientFactory
	logger         *slog.Logger
	observer       Observer
	dialTimeout    time.Duration
	requestTimeout time.Duration
	confirmTimeout time.Duration
	confirmations  uint64
	pollInterval   time.Duration
}

// New creates a Deployer, applying defaults for unset fields.
func New(cfg Config) *Deployer {
	d := &Deployer{
		clients:        cfg.Clients,
		logger:         cfg.Logger,
		observer:       cfg.Observer,
		dialTimeout:    cfg.DialTimeout,
		requestTimeout: cfg.RequestTimeout,
		confirmTimeout: cfg.ConfirmTimeout,
		confirmations:  cfg.Confirmations,
		pollInterval:   cfg.PollInterval,
	}

	if d.clients == nil {
		d.clients = NewEthClientFactory()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.dialTimeout <= 0 {
		d.dialTimeout = DefaultDialTimeout
	}
	if d.requestTimeout <= 0 {
		d.requestTimeout = DefaultRequestTimeout
	}
	if d.confirmTimeout <= 0 {
		d.confirmTimeout = DefaultConfirmTimeout
	}
	if d.confirmations == 0 {
		d.confirmations = DefaultConfirmations
	}
	if d.pollInterval <= 0 {
		d.pollInterval = DefaultPollInterval
	}

	return d
}

// Request describes one deployment.
type Request struct {
	Artifact   *artifact.Artifact
	Network    network.Network
	Credential *credential.Credential

	// GasLimit overrides gas estimation when non-zero.
	GasLimit uint64
}

// Result is a confirmed deployment.
type Result struct {
	RunID           string         `json:"runId"`
	Network         string         `json:"network"`
	ChainID         *big.Int       `json:"chainId"`
	Contract        string         `json:"contract"`
	Deployer        common.Address `json:"deployer"`
	ContractAddress common.Address `json:"contractAddress"`
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockNumber     uint64         `json:"blockNumber"`
	GasLimit        uint64         `json:"gasLimit"`
	GasEstimated    bool           `json:"gasEstimated"`
	GasUsed         uint64         `json:"gasUsed"`
	ExplorerURL     string         `json:"explorerUrl,omitempty"`
	Receipt         *types.Receipt `json:"receipt"`
}

// Deploy submits the artifact's creation transaction and waits for it to confirm.
// Failures are returned as *Error; nothing is retried.
func (d *Deployer) Deploy(ctx context.Context, req *Request) (res *Result, err error) {
	if req == nil {
		return nil, NewError(KindConfiguration, "validate request", errors.New("request is nil"))
	}

	start := time.Now()
	runID := uuid.NewString()
	logger := d.logger.With(
		slog.String("run_id", runID),
		slog.String("network", req.Network.Name),
	)
	defer func() {
		d.observe(req.Network.Name, start, res, err)
	}()

	data, err := d.validate(req)
	if err != nil {
		return nil, err
	}

	endpoint := req.Network.Endpoint()
	logger.Info("deploying contract",
		slog.String("contract", req.Artifact.ContractName),
		slog.String("endpoint", endpoint),
		slog.Int("bytecode_size", len(req.Artifact.Bytecode)),
	)

	// Step 1: connect and check liveness
	client, chainID, err := d.connect(ctx, endpoint, req.Network.ChainID)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	logger.Info("connected", slog.String("chain_id", chainID.String()))

	// Step 2: bind the credential to the chain
	signer, err := req.Credential.NewSigner(chainID)
	if err != nil {
		return nil, NewError(KindInvalidCredential, "derive signer", err)
	}
	from := signer.Address()

	// Steps 3 and 4 share the request timeout.
	reqCtx, cancelReq := context.WithTimeout(ctx, d.requestTimeout)
	defer cancelReq()

	// Step 3: gas limit
	gasLimit, estimated, err := d.resolveGasLimit(reqCtx, client, from, data, req.GasLimit)
	if err != nil {
		return nil, stalled(ctx, reqCtx, err)
	}
	logger.Info("gas limit resolved",
		slog.Uint64("gas_limit", gasLimit),
		slog.Bool("estimated", estimated),
	)

	// Step 4: build, sign and send
	signedTx, err := d.submit(reqCtx, client, signer, chainID, gasLimit, data)
	if err != nil {
		return nil, stalled(ctx, reqCtx, err)
	}
	cancelReq()
	logger.Info("transaction submitted, waiting for confirmation",
		slog.String("tx_hash", signedTx.Hash().Hex()),
		slog.String("deployer", from.Hex()),
		slog.Uint64("nonce", signedTx.Nonce()),
		slog.Uint64("confirmations", d.confirmations),
		slog.Duration("timeout", d.confirmTimeout),
	)

	// Step 5: wait for confirmation
	receipt, err := d.awaitConfirmation(ctx, client, signedTx, logger)
	if err != nil {
		return nil, err
	}

	// Step 6: result
	res = &Result{
		RunID:           runID,
		Network:         req.Network.Name,
		ChainID:         chainID,
		Contract:        req.Artifact.ContractName,
		Deployer:        from,
		ContractAddress: receipt.ContractAddress,
		TransactionHash: signedTx.Hash(),
		BlockNumber:     receipt.BlockNumber.Uint64(),
		GasLimit:        gasLimit,
		GasEstimated:    estimated,
		GasUsed:         receipt.GasUsed,
		ExplorerURL:     req.Network.AddressURL(receipt.ContractAddress.Hex()),
		Receipt:         receipt,
	}

	logger.Info("contract deployed",
		slog.String("address", res.ContractAddress.Hex()),
		slog.Uint64("block_number", res.BlockNumber),
		slog.Uint64("gas_used", res.GasUsed),
		slog.Duration("elapsed", time.Since(start)),
	)

	return res, nil
}

// validate checks the request and returns the creation payload.
func (d *Deployer) validate(req *Request) ([]byte, error) {
	if req.Artifact == nil {
		return nil, NewError(KindConfiguration, "validate request", errors.New("artifact is required"))
	}
	if req.Network.Endpoint() == "" {
		return nil, NewError(KindConfiguration, "validate request", fmt.Errorf("network %q has no endpoint", req.Network.Name))
	}

	// No constructor arguments are supplied.
	data, err := req.Artifact.DeployData()
	if err != nil {
		return nil, NewError(KindConfiguration, "encode deployment", err)
	}
	return data, nil
}

// connect dials the endpoint and runs a liveness query within the dial timeout.
func (d *Deployer) connect(ctx context.Context, endpoint string, expectedChainID uint64) (Client, *big.Int, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	client, err := d.clients.Dial(dialCtx, endpoint)
	if err != nil {
		return nil, nil, NewError(KindNetworkUnreachable, "connect", err)
	}

	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		return nil, nil, NewError(KindNetworkUnreachable, "get chain ID", err)
	}

	if expectedChainID != 0 && (!chainID.IsUint64() || chainID.Uint64() != expectedChainID) {
		client.Close()
		return nil, nil, NewError(KindConfiguration, "verify chain ID",
			fmt.Errorf("chain ID mismatch: expected %d, got %s", expectedChainID, chainID))
	}

	return client, chainID, nil
}

// stalled reports err as KindNetworkUnreachable when the request timeout
// expired while the caller's context is still live.
func stalled(ctx, reqCtx context.Context, err error) error {
	if ctx.Err() != nil || !errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return err
	}
	var de *Error
	if !errors.As(err, &de) || de.Kind == KindNetworkUnreachable {
		return err
	}
	e := NewError(KindNetworkUnreachable, de.Op, fmt.Errorf("no response within request timeout: %w", de.Err))
	e.TxHash = de.TxHash
	return e
}

// resolveGasLimit returns the override when set, otherwise the node's estimate.
func (d *Deployer) resolveGasLimit(ctx context.Context, client Client, from common.Address, data []byte, override uint64) (uint64, bool, error) {
	balance, err := client.BalanceAt(ctx, from, nil)
	if err != nil {
		return 0, false, NewError(KindNetworkUnreachable, "get balance", err)
	}
	d.logger.Debug("deployer balance",
		slog.String("address", from.Hex()),
		slog.String("balance_wei", balance.String()),
	)
	if balance.Sign() == 0 {
		return 0, false, NewError(KindSubmissionRejected, "check balance",
			fmt.Errorf("deployer address %s has no balance", from.Hex()))
	}

	if override > 0 {
		return override, false, nil
	}

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		Data: data,
	})
	if err != nil {
		return 0, false, NewError(KindSubmissionRejected, "estimate gas", err)
	}
	return gas, true, nil
}

// submit builds, signs and sends the creation transaction.
func (d *Deployer) submit(ctx context.Context, client Client, signer *credential.Signer, chainID *big.Int, gasLimit uint64, data []byte) (*types.Transaction, error) {
	nonce, err := client.PendingNonceAt(ctx, signer.Address())
	if err != nil {
		return nil, NewError(KindNetworkUnreachable, "get nonce", err)
	}

	tx, err := d.buildTransaction(ctx, client, chainID, nonce, gasLimit, data)
	if err != nil {
		return nil, NewError(KindNetworkUnreachable, "get fee data", err)
	}

	signedTx, err := signer.SignTransaction(ctx, tx)
	if err != nil {
		return nil, NewError(KindInvalidCredential, "sign transaction", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		e := NewError(KindSubmissionRejected, "send transaction", err)
		e.TxHash = signedTx.Hash()
		return nil, e
	}

	return signedTx, nil
}

// buildTransaction creates a dynamic-fee transaction on London chains and a
// legacy one elsewhere. To is nil: this is a contract creation.
func (d *Deployer) buildTransaction(ctx context.Context, client Client, chainID *big.Int, nonce, gasLimit uint64, data []byte) (*types.Transaction, error) {
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get latest header: %w", err)
	}

	if head.BaseFee != nil {
		tip, err := client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas tip cap: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			Value:     big.NewInt(0),
			Data:      data,
		}), nil
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		Value:    big.NewInt(0),
		Data:     data,
	}), nil
}

// awaitConfirmation waits for inclusion, the configured depth and deployed code.
func (d *Deployer) awaitConfirmation(ctx context.Context, client Client, tx *types.Transaction, logger *slog.Logger) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.confirmTimeout)
	defer cancel()

	timeoutErr := func(op string, err error) error {
		e := NewError(KindConfirmationTimeout, op, err)
		e.TxHash = tx.Hash()
		return e
	}

	receipt, err := bind.WaitMined(waitCtx, client, tx)
	if err != nil {
		return nil, timeoutErr("wait for receipt", err)
	}

	logger.Info("transaction mined",
		slog.Uint64("block_number", receipt.BlockNumber.Uint64()),
		slog.Uint64("gas_used", receipt.GasUsed),
		slog.Uint64("status", receipt.Status),
	)

	if receipt.Status != types.ReceiptStatusSuccessful {
		e := NewError(KindTransactionReverted, "execute creation",
			fmt.Errorf("reverted in block %d after using %d gas", receipt.BlockNumber.Uint64(), receipt.GasUsed))
		e.TxHash = tx.Hash()
		return nil, e
	}

	if err := d.waitForDepth(waitCtx, client, receipt.BlockNumber.Uint64()); err != nil {
		return nil, timeoutErr("wait for confirmations", err)
	}

	code, err := client.CodeAt(waitCtx, receipt.ContractAddress, receipt.BlockNumber)
	if err != nil {
		e := NewError(KindNetworkUnreachable, "verify deployed code", err)
		e.TxHash = tx.Hash()
		return nil, e
	}
	if len(code) == 0 {
		e := NewError(KindTransactionReverted, "verify deployed code",
			fmt.Errorf("no code at %s after deployment", receipt.ContractAddress.Hex()))
		e.TxHash = tx.Hash()
		return nil, e
	}

	return receipt, nil
}

// waitForDepth blocks until the chain head is confirmations-1 blocks past included.
func (d *Deployer) waitForDepth(ctx context.Context, client Client, included uint64) error {
	if d.confirmations <= 1 {
		return nil
	}
	target := included + d.confirmations - 1

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		head, err := client.BlockNumber(ctx)
		if err == nil && head >= target {
			return nil
		}
		if err != nil {
			d.logger.Debug("block number query failed", slog.String("error", err.Error()))
		} else {
			d.logger.Debug("waiting for confirmations",
				slog.Uint64("head", head),
				slog.Uint64("target", target),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Deployer) observe(networkName string, start time.Time, res *Result, err error) {
	if d.observer == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	d.observer.ObserveDeployment(networkName, outcome, time.Since(start))
	if res != nil {
		d.observer.ObserveGasUsed(networkName, res.GasUsed)
	}
}
