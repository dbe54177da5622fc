package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/whalestrategy/whalestake/pkg/types"
)

type keySigner struct {
	key *ecdsa.PrivateKey
}

func newKeySigner(t *testing.T) keySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return keySigner{key: key}
}

func (s keySigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

func (s keySigner) TransactOpts(_ context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(s.key, chainID)
}

const minedBlock = 0x10

// minedNode accepts raw transactions and mines each one into minedBlock with
// the configured receipt status. eth_blockNumber advances by one per call.
type minedNode struct {
	mu         sync.Mutex
	status     uint64
	estimate   *rpcError // returned by eth_estimateGas when set
	replay     *rpcError // returned by eth_call when set
	head       uint64
	sent       []*ethtypes.Transaction
	callBlocks []string
}

func (n *minedNode) handlers() map[string]rpcHandler {
	return map[string]rpcHandler{
		"eth_chainId":             constResult("0x1"),
		"eth_gasPrice":            constResult("0x3b9aca00"),
		"eth_getTransactionCount": constResult("0x7"),
		"eth_estimateGas": func([]json.RawMessage) (any, *rpcError) {
			if n.estimate != nil {
				return nil, n.estimate
			}
			return "0x186a0", nil
		},
		"eth_sendRawTransaction": func(params []json.RawMessage) (any, *rpcError) {
			var raw string
			if err := json.Unmarshal(params[0], &raw); err != nil {
				return nil, &rpcError{Code: -32602, Message: err.Error()}
			}
			tx := new(ethtypes.Transaction)
			if err := tx.UnmarshalBinary(common.FromHex(raw)); err != nil {
				return nil, &rpcError{Code: -32602, Message: err.Error()}
			}
			n.mu.Lock()
			n.sent = append(n.sent, tx)
			n.mu.Unlock()
			return tx.Hash().Hex(), nil
		},
		"eth_getTransactionReceipt": func([]json.RawMessage) (any, *rpcError) {
			n.mu.Lock()
			defer n.mu.Unlock()
			if len(n.sent) == 0 {
				return nil, nil
			}
			tx := n.sent[len(n.sent)-1]
			return map[string]any{
				"status":            fmt.Sprintf("0x%x", n.status),
				"cumulativeGasUsed": "0x5208",
				"gasUsed":           "0x5208",
				"logsBloom":         "0x" + strings.Repeat("00", 256),
				"logs":              []any{},
				"transactionHash":   tx.Hash().Hex(),
				"blockHash":         common.HexToHash("0x01").Hex(),
				"blockNumber":       fmt.Sprintf("0x%x", minedBlock),
				"transactionIndex":  "0x0",
			}, nil
		},
		"eth_blockNumber": func([]json.RawMessage) (any, *rpcError) {
			n.mu.Lock()
			defer n.mu.Unlock()
			if n.head < minedBlock {
				n.head = minedBlock
			}
			n.head++
			return fmt.Sprintf("0x%x", n.head), nil
		},
		"eth_call": func(params []json.RawMessage) (any, *rpcError) {
			var block string
			if len(params) > 1 {
				_ = json.Unmarshal(params[1], &block)
			}
			n.mu.Lock()
			n.callBlocks = append(n.callBlocks, block)
			n.mu.Unlock()
			if n.replay != nil {
				return nil, n.replay
			}
			return "0x", nil
		},
	}
}

func (n *minedNode) sentTxs() []*ethtypes.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*ethtypes.Transaction(nil), n.sent...)
}

// errorStringData is the ABI encoding of Error(reason) that nodes attach to
// a revert.
func errorStringData(t *testing.T, reason string) string {
	t.Helper()
	typ, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	packed, err := abi.Arguments{{Type: typ}}.Pack(reason)
	if err != nil {
		t.Fatal(err)
	}
	return hexutil.Encode(append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...))
}

func dialMined(t *testing.T, n *minedNode, signer Signer, cfg func(*ClientConfig)) *Client {
	t.Helper()
	srv := serveRPC(t, n.handlers(), nil)
	cc := testClientConfig(srv.URL)
	cc.ConfirmPoll = time.Millisecond
	if cfg != nil {
		cfg(&cc)
	}
	c, err := Dial(context.Background(), cc, signer)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func txCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClient_SubmitStakeConfirmed(t *testing.T) {
	node := &minedNode{status: ethtypes.ReceiptStatusSuccessful}
	signer := newKeySigner(t)
	c := dialMined(t, node, signer, func(cc *ClientConfig) {
		cc.Confirmations = 2
		cc.MaxGasPrice = big.NewInt(500_000_000)
	})
	ctx := txCtx(t)

	amount := big.NewInt(1_000_000)
	h, err := c.SubmitStake(ctx, types.TokenUSDT, 6, amount, GasParams{Limit: 300_000})
	if err != nil {
		t.Fatalf("SubmitStake: %v", err)
	}
	if err := c.WaitMined(ctx, h); err != nil {
		t.Fatalf("WaitMined: %v", err)
	}

	sent := node.sentTxs()
	if len(sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(sent))
	}
	tx := sent[0]
	if tx.Hash() != h.Hash {
		t.Errorf("handle hash %s, sent %s", h.Hash.Hex(), tx.Hash().Hex())
	}
	if tx.To() == nil || *tx.To() != testStaking {
		t.Errorf("sent to %v, want staking contract", tx.To())
	}
	if tx.Nonce() != 7 || tx.Gas() != 300_000 {
		t.Errorf("nonce=%d gas=%d", tx.Nonce(), tx.Gas())
	}
	if tx.GasPrice().Cmp(big.NewInt(500_000_000)) != 0 {
		t.Errorf("gas price %s should be capped at 0.5 gwei", tx.GasPrice())
	}
	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(1)), tx)
	if err != nil || from != signer.Address() {
		t.Errorf("sender = %s, %v", from.Hex(), err)
	}

	method := stakingABI.Methods["stake"]
	if !strings.HasPrefix(hexutil.Encode(tx.Data()), hexutil.Encode(method.ID)) {
		t.Fatalf("calldata does not call stake: %x", tx.Data())
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[0].(common.Address) != c.cfg.Tokens[0].Address ||
		args[1].(*big.Int).Int64() != 6 ||
		args[2].(*big.Int).Cmp(amount) != 0 {
		t.Errorf("stake args = %v", args)
	}

	node.mu.Lock()
	head := node.head
	node.mu.Unlock()
	if head < minedBlock+2 {
		t.Errorf("returned at head %d before 2 confirmations", head)
	}
}

func TestClient_SubmitRevertsAtEstimate(t *testing.T) {
	node := &minedNode{
		status: ethtypes.ReceiptStatusSuccessful,
		estimate: &rpcError{
			Code:    3,
			Message: "execution reverted",
			Data:    errorStringData(t, RevertAlreadyStaked),
		},
	}
	c := dialMined(t, node, newKeySigner(t), nil)

	_, err := c.SubmitStake(txCtx(t), types.TokenUSDT, 6, big.NewInt(1), GasParams{Limit: 300_000})
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
	var re *RevertError
	if !errors.As(err, &re) || re.Reason != RevertAlreadyStaked {
		t.Errorf("reason = %+v", re)
	}
	if n := len(node.sentTxs()); n != 0 {
		t.Errorf("a reverting call must not be sent, got %d transactions", n)
	}
}

func TestClient_MinedRevertKeepsReason(t *testing.T) {
	node := &minedNode{
		status: ethtypes.ReceiptStatusFailed,
		replay: &rpcError{Code: 3, Message: "execution reverted: " + RevertAlreadyStaked},
	}
	c := dialMined(t, node, newKeySigner(t), nil)
	ctx := txCtx(t)

	h, err := c.SubmitStake(ctx, types.TokenUSDT, 6, big.NewInt(1), GasParams{Limit: 300_000, Price: big.NewInt(1)})
	if err != nil {
		t.Fatalf("SubmitStake: %v", err)
	}
	err = c.WaitMined(ctx, h)
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
	var re *RevertError
	if !errors.As(err, &re) || re.Reason != RevertAlreadyStaked {
		t.Errorf("reason = %+v", re)
	}
	if !strings.HasSuffix(err.Error(), "execution reverted: "+RevertAlreadyStaked) {
		t.Errorf("reason should follow the revert marker: %q", err.Error())
	}

	node.mu.Lock()
	blocks := node.callBlocks
	node.mu.Unlock()
	if len(blocks) != 1 || blocks[0] != fmt.Sprintf("0x%x", minedBlock) {
		t.Errorf("replay blocks = %v, want the mined block", blocks)
	}
}

func TestClient_MinedRevertWithoutReason(t *testing.T) {
	node := &minedNode{status: ethtypes.ReceiptStatusFailed}
	c := dialMined(t, node, newKeySigner(t), nil)
	ctx := txCtx(t)

	h, err := c.SubmitUnstake(ctx, types.TokenUSDT, GasParams{Limit: 300_000, Price: big.NewInt(1)})
	if err != nil {
		t.Fatalf("SubmitUnstake: %v", err)
	}
	err = c.WaitMined(ctx, h)
	var re *RevertError
	if !errors.As(err, &re) || re.Reason != "" {
		t.Fatalf("expected a reasonless revert, got %v", err)
	}
	if !strings.HasSuffix(err.Error(), "execution reverted") {
		t.Errorf("hash must not follow the revert marker: %q", err.Error())
	}
}

func TestClient_ReadStakeInfoDecodesTuple(t *testing.T) {
	const stakedAt = 1_700_000_000
	const stakeEnd = stakedAt + 180*86400
	words := []int64{5_000_000_000_000_000_000, 120_000_000_000_000_000, stakedAt, stakeEnd}
	var result strings.Builder
	result.WriteString("0x")
	for _, w := range words {
		result.WriteString(strings.TrimPrefix(uint256Word(w), "0x"))
	}
	node := fakeNode(t, "0x1", result.String(), nil)

	c, err := Dial(context.Background(), testClientConfig(node.URL), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	rec, err := c.ReadStakeInfo(context.Background(), types.TokenUSDT, testUser)
	if err != nil {
		t.Fatalf("ReadStakeInfo: %v", err)
	}
	if !rec.Active() || rec.StakedAmount.Int64() != words[0] || rec.Rewards.Int64() != words[1] {
		t.Errorf("amounts = %s / %s", rec.StakedAmount, rec.Rewards)
	}
	if rec.StakedAt == nil || rec.StakedAt.Unix() != stakedAt {
		t.Errorf("StakedAt = %v", rec.StakedAt)
	}
	if rec.UnlockAt == nil || rec.UnlockAt.Unix() != stakeEnd {
		t.Errorf("UnlockAt = %v", rec.UnlockAt)
	}
}
