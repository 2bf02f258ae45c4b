package clients

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"crosspay/internal/config"
	"crosspay/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BalanceChecker answers "does this wallet hold at least N of this asset".
// It is the only blocking dependency of the approval submission path, so
// every RPC call goes through a breaker to keep a flapping endpoint from
// stalling requests.
type BalanceChecker interface {
	TokenBalance(ctx context.Context, chain models.Chain, asset, address string) (decimal.Decimal, error)
}

// balanceOf(address) selector.
var erc20BalanceOfSelector = common.Hex2Bytes("70a08231")

// ChainClient implements BalanceChecker over per-chain RPC endpoints.
type ChainClient struct {
	evmClients   map[models.Chain]*ethclient.Client
	solanaClient *rpc.Client
	breakers     map[models.Chain]*gobreaker.CircuitBreaker
	// asset symbol -> per-chain token contract/mint, from configuration
	tokenAddresses map[models.Chain]map[string]string
	decimals       map[models.Chain]map[string]int32
}

// NewChainClient dials the configured RPC endpoints. Chains without an
// endpoint are simply absent; the approval service treats that as
// "balance policy not enforceable" and skips the check.
func NewChainClient(cfg *config.Config) *ChainClient {
	client := &ChainClient{
		evmClients:     map[models.Chain]*ethclient.Client{},
		breakers:       map[models.Chain]*gobreaker.CircuitBreaker{},
		tokenAddresses: map[models.Chain]map[string]string{},
		decimals:       map[models.Chain]map[string]int32{},
	}

	for name, chainCfg := range cfg.Chains {
		chain := models.Chain(name)
		if !chainCfg.Enabled || len(chainCfg.RPCEndpoints) == 0 {
			continue
		}

		client.breakers[chain] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "rpc-" + name,
			MaxRequests: 3,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logrus.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("rpc breaker state changed")
			},
		})

		if chain.IsEVM() {
			ec, err := ethclient.Dial(chainCfg.RPCEndpoints[0])
			if err != nil {
				logrus.WithError(err).WithField("chain", name).Warn("failed to dial rpc endpoint")
				continue
			}
			client.evmClients[chain] = ec
		} else if chain == models.ChainSolana {
			client.solanaClient = rpc.New(chainCfg.RPCEndpoints[0])
		}

		for asset, token := range chainCfg.Tokens {
			client.RegisterToken(chain, asset, token.Address, token.Decimals)
		}
	}

	return client
}

// RegisterToken maps an asset symbol to its on-chain contract (EVM) or
// mint (Solana) address with the token's decimal precision.
func (c *ChainClient) RegisterToken(chain models.Chain, asset, address string, decimals int32) {
	if c.tokenAddresses[chain] == nil {
		c.tokenAddresses[chain] = map[string]string{}
		c.decimals[chain] = map[string]int32{}
	}
	c.tokenAddresses[chain][asset] = address
	c.decimals[chain][asset] = decimals
}

// TokenBalance fetches the wallet's token balance. Errors are upstream
// chain failures; callers decide whether the policy check is mandatory.
func (c *ChainClient) TokenBalance(ctx context.Context, chain models.Chain, asset, address string) (decimal.Decimal, error) {
	breaker, ok := c.breakers[chain]
	if !ok {
		return decimal.Zero, fmt.Errorf("no RPC configured for chain %s", chain)
	}

	result, err := breaker.Execute(func() (interface{}, error) {
		if chain.IsEVM() {
			return c.evmTokenBalance(ctx, chain, asset, address)
		}
		return c.solanaTokenBalance(ctx, asset, address)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return result.(decimal.Decimal), nil
}

func (c *ChainClient) evmTokenBalance(ctx context.Context, chain models.Chain, asset, address string) (decimal.Decimal, error) {
	ec, ok := c.evmClients[chain]
	if !ok {
		return decimal.Zero, fmt.Errorf("no client for chain %s", chain)
	}
	tokenAddr, ok := c.tokenAddresses[chain][asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown asset %s on chain %s", asset, chain)
	}

	// balanceOf(wallet) via eth_call; calldata is selector + padded address.
	wallet := common.HexToAddress(address)
	data := make([]byte, 0, 36)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(wallet.Bytes(), 32)...)

	contract := common.HexToAddress(tokenAddr)
	raw, err := ec.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf call failed: %w", err)
	}

	units := new(big.Int).SetBytes(raw)
	exp := c.decimals[chain][asset]
	return decimal.NewFromBigInt(units, -exp), nil
}

func (c *ChainClient) solanaTokenBalance(ctx context.Context, asset, address string) (decimal.Decimal, error) {
	if c.solanaClient == nil {
		return decimal.Zero, fmt.Errorf("no solana client configured")
	}

	account, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid token account address: %w", err)
	}

	out, err := c.solanaClient.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("getTokenAccountBalance failed: %w", err)
	}
	if out == nil || out.Value == nil {
		return decimal.Zero, fmt.Errorf("empty balance response for %s", address)
	}

	amount, err := decimal.NewFromString(out.Value.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance amount: %w", err)
	}
	return amount.Shift(-int32(out.Value.Decimals)), nil
}
