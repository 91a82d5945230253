package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hash is a 32-byte double-SHA256 digest used for transaction ids and block hashes.
type Hash = chainhash.Hash

// HashSize is the length of a Hash in bytes.
const HashSize = chainhash.HashSize

// ZeroHash is the previous hash of the genesis block.
var ZeroHash Hash

// NewHash copies a 32-byte slice into a Hash.
func NewHash(b []byte) (Hash, error) {
	return toHash(b)
}

// Address is a base58check encoded public key hash.
type Address string

func (a Address) String() string {
	return string(a)
}

// TxOutput locks an amount to an address.
type TxOutput struct {
	Amount  uint64
	Address Address
}

// TxInput spends the output Index of transaction TxID.
type TxInput struct {
	TxID      Hash
	Index     uint32
	Signature []byte
	PubKey    []byte
}

// Outpoint returns the output referenced by the input.
func (in *TxInput) Outpoint() Outpoint {
	return Outpoint{TxID: in.TxID, Index: in.Index}
}

type Transaction struct {
	ID      Hash
	Inputs  []TxInput
	Outputs []TxOutput
}

// IsCoinbase reports whether tx mints new value rather than spending outputs.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 0
}

// NewCoinbase mints amount to address with no inputs.
func NewCoinbase(to Address, amount uint64) *Transaction {
	tx := &Transaction{Outputs: []TxOutput{{Amount: amount, Address: to}}}
	tx.ID = tx.ComputeID()
	return tx
}

// OutputTotal sums the output amounts, failing on overflow.
func (tx *Transaction) OutputTotal() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		sum := total + out.Amount
		if sum < total {
			return 0, fmt.Errorf("%w: output total overflows", ErrMalformedTransaction)
		}
		total = sum
	}
	return total, nil
}

// Outpoint identifies a single transaction output.
type Outpoint struct {
	TxID  Hash
	Index uint32
}

// String renders the outpoint as txid:index.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Index)
}

// ParseOutpoint is the inverse of Outpoint.String.
func ParseOutpoint(s string) (Outpoint, error) {
	arr := strings.Split(s, ":")
	if len(arr) != 2 {
		return Outpoint{}, fmt.Errorf("invalid outpoint:%s", s)
	}
	hash, err := chainhash.NewHashFromStr(arr[0])
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid outpoint:%s: %w", s, err)
	}
	index, err := strconv.ParseUint(arr[1], 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid outpoint:%s: %w", s, err)
	}
	return Outpoint{TxID: *hash, Index: uint32(index)}, nil
}

// UTXO is a spendable output together with its location.
type UTXO struct {
	Outpoint
	Output TxOutput
}

// Block is a sealed, hash-linked batch of transactions.
type Block struct {
	Index        uint64
	Timestamp    int64 // unix milliseconds
	Transactions []*Transaction
	PrevHash     Hash
	MerkleRoot   Hash
	Hash         Hash
}

// UTXOReply is the balance view of an address.
type UTXOReply struct {
	Address   string     `json:"address"`
	Balance   string     `json:"balance"`
	Utxos     []UTXOItem `json:"utxos"`
	TotalSize int        `json:"total_size"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}

type UTXOItem struct {
	TxID  string `json:"txid"`
	Index uint32 `json:"index"`
	Value string `json:"value"`
}

type UTXORequest struct {
	Address  string `json:"address" binding:"required"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

type BalanceRequest struct {
	Address string `json:"address" binding:"required"`
}

type BalanceReply struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type GenesisRequest struct {
	Address string `json:"address" binding:"required"`
	Reward  string `json:"reward"`
}

type SendRequest struct {
	From   string `json:"from" binding:"required"`
	To     string `json:"to" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

type SendReply struct {
	TxID   string `json:"txid"`
	Block  string `json:"block"`
	Height uint64 `json:"height"`
	Fee    string `json:"fee"`
}

type WalletReply struct {
	Address string `json:"address"`
}

type AddressesReply struct {
	Addresses []string `json:"addresses"`
}

type BlocksRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

type BlocksReply struct {
	Blocks    []BlockItem `json:"blocks"`
	TotalSize int         `json:"total_size"`
	Page      int         `json:"page"`
	PageSize  int         `json:"page_size"`
}

type BlockItem struct {
	Index        uint64   `json:"index"`
	Timestamp    int64    `json:"timestamp"`
	Hash         string   `json:"hash"`
	PrevHash     string   `json:"prev_hash"`
	MerkleRoot   string   `json:"merkle_root"`
	Transactions []TxItem `json:"transactions"`
}

type TxItem struct {
	TxID    string      `json:"txid"`
	Inputs  []TxInItem  `json:"inputs"`
	Outputs []TxOutItem `json:"outputs"`
}

type TxInItem struct {
	TxID  string `json:"txid"`
	Index uint32 `json:"index"`
}

type TxOutItem struct {
	Address string `json:"address"`
	Value   string `json:"value"`
}

type ReindexReply struct {
	Transactions int `json:"transactions"`
	Utxos        int `json:"utxos"`
}

type VerifyReply struct {
	OK       bool   `json:"ok"`
	BadIndex int64  `json:"bad_index"`
	Reason   string `json:"reason,omitempty"`
}

type HeightReply struct {
	Height uint64 `json:"height"`
	Tip    string `json:"tip"`
}
