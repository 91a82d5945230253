package model

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"google.golang.org/protobuf/encoding/protowire"
)

// Records are encoded in protobuf wire format with fields written in ascending
// field order, so the same value always produces the same bytes.

const (
	fieldInputTxID      protowire.Number = 1
	fieldInputIndex     protowire.Number = 2
	fieldInputSignature protowire.Number = 3
	fieldInputPubKey    protowire.Number = 4

	fieldOutputAmount  protowire.Number = 1
	fieldOutputAddress protowire.Number = 2

	fieldTxInput     protowire.Number = 1
	fieldTxOutput    protowire.Number = 2
	fieldTxID        protowire.Number = 3
	fieldTxSignIndex protowire.Number = 4

	fieldBlockIndex      protowire.Number = 1
	fieldBlockTimestamp  protowire.Number = 2
	fieldBlockPrevHash   protowire.Number = 3
	fieldBlockMerkleRoot protowire.Number = 4
	fieldBlockHash       protowire.Number = 5
	fieldBlockTx         protowire.Number = 6
)

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInput(b []byte, in *TxInput, unsigned bool) []byte {
	var buf []byte
	buf = appendBytes(buf, fieldInputTxID, in.TxID[:])
	buf = appendVarint(buf, fieldInputIndex, uint64(in.Index))
	if !unsigned {
		buf = appendBytes(buf, fieldInputSignature, in.Signature)
		buf = appendBytes(buf, fieldInputPubKey, in.PubKey)
	}
	return appendBytes(b, fieldTxInput, buf)
}

// MarshalOutput encodes a single output.
func MarshalOutput(out TxOutput) []byte {
	var buf []byte
	buf = appendVarint(buf, fieldOutputAmount, out.Amount)
	return appendBytes(buf, fieldOutputAddress, []byte(out.Address))
}

// Payload is the canonical encoding of the inputs and outputs. The transaction
// id is the double-SHA256 of it.
func (tx *Transaction) Payload() []byte {
	var b []byte
	for i := range tx.Inputs {
		b = appendInput(b, &tx.Inputs[i], false)
	}
	for _, out := range tx.Outputs {
		b = appendBytes(b, fieldTxOutput, MarshalOutput(out))
	}
	return b
}

// ComputeID hashes the payload. It does not modify tx.
func (tx *Transaction) ComputeID() Hash {
	return chainhash.DoubleHashH(tx.Payload())
}

// SigHash is the digest signed by input i: the transaction with every
// signature and public key stripped, followed by the input index.
func (tx *Transaction) SigHash(i int) []byte {
	var b []byte
	for j := range tx.Inputs {
		b = appendInput(b, &tx.Inputs[j], true)
	}
	for _, out := range tx.Outputs {
		b = appendBytes(b, fieldTxOutput, MarshalOutput(out))
	}
	b = appendVarint(b, fieldTxSignIndex, uint64(i))
	return chainhash.DoubleHashB(b)
}

// MarshalTransaction encodes tx including its id.
func MarshalTransaction(tx *Transaction) []byte {
	b := tx.Payload()
	return appendBytes(b, fieldTxID, tx.ID[:])
}

// MarshalBlock encodes every field of the block.
func MarshalBlock(blk *Block) []byte {
	var b []byte
	b = appendVarint(b, fieldBlockIndex, blk.Index)
	b = appendVarint(b, fieldBlockTimestamp, uint64(blk.Timestamp))
	b = appendBytes(b, fieldBlockPrevHash, blk.PrevHash[:])
	b = appendBytes(b, fieldBlockMerkleRoot, blk.MerkleRoot[:])
	b = appendBytes(b, fieldBlockHash, blk.Hash[:])
	for _, tx := range blk.Transactions {
		b = appendBytes(b, fieldBlockTx, MarshalTransaction(tx))
	}
	return b
}

// HeaderPayload is the part of the block covered by its hash.
func (blk *Block) HeaderPayload() []byte {
	var b []byte
	b = appendVarint(b, fieldBlockIndex, blk.Index)
	b = appendVarint(b, fieldBlockTimestamp, uint64(blk.Timestamp))
	b = appendBytes(b, fieldBlockPrevHash, blk.PrevHash[:])
	return appendBytes(b, fieldBlockMerkleRoot, blk.MerkleRoot[:])
}

type fieldFunc func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error

func consumeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, typ, nil, x); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: field %d has wire type %d", ErrMalformedRecord, num, typ)
		}
	}
	return nil
}

func toHash(v []byte) (Hash, error) {
	h, err := chainhash.NewHash(v)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return *h, nil
}

func unexpected(num protowire.Number, typ protowire.Type) error {
	return fmt.Errorf("%w: unexpected field %d (type %d)", ErrMalformedRecord, num, typ)
}

// UnmarshalOutput decodes MarshalOutput.
func UnmarshalOutput(b []byte) (TxOutput, error) {
	var out TxOutput
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == fieldOutputAmount && typ == protowire.VarintType:
			out.Amount = x
		case num == fieldOutputAddress && typ == protowire.BytesType:
			out.Address = Address(v)
		default:
			return unexpected(num, typ)
		}
		return nil
	})
	return out, err
}

func unmarshalInput(b []byte) (TxInput, error) {
	var in TxInput
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		var err error
		switch {
		case num == fieldInputTxID && typ == protowire.BytesType:
			in.TxID, err = toHash(v)
		case num == fieldInputIndex && typ == protowire.VarintType:
			if x > 1<<32-1 {
				return fmt.Errorf("%w: output index %d", ErrMalformedRecord, x)
			}
			in.Index = uint32(x)
		case num == fieldInputSignature && typ == protowire.BytesType:
			in.Signature = append([]byte(nil), v...)
		case num == fieldInputPubKey && typ == protowire.BytesType:
			in.PubKey = append([]byte(nil), v...)
		default:
			return unexpected(num, typ)
		}
		return err
	})
	return in, err
}

// UnmarshalTransaction decodes MarshalTransaction.
func UnmarshalTransaction(b []byte) (*Transaction, error) {
	tx := &Transaction{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		if typ != protowire.BytesType {
			return unexpected(num, typ)
		}
		switch num {
		case fieldTxInput:
			in, err := unmarshalInput(v)
			if err != nil {
				return err
			}
			tx.Inputs = append(tx.Inputs, in)
		case fieldTxOutput:
			out, err := UnmarshalOutput(v)
			if err != nil {
				return err
			}
			tx.Outputs = append(tx.Outputs, out)
		case fieldTxID:
			id, err := toHash(v)
			if err != nil {
				return err
			}
			tx.ID = id
		default:
			return unexpected(num, typ)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// UnmarshalBlock decodes MarshalBlock.
func UnmarshalBlock(b []byte) (*Block, error) {
	blk := &Block{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		var err error
		switch {
		case num == fieldBlockIndex && typ == protowire.VarintType:
			blk.Index = x
		case num == fieldBlockTimestamp && typ == protowire.VarintType:
			blk.Timestamp = int64(x)
		case num == fieldBlockPrevHash && typ == protowire.BytesType:
			blk.PrevHash, err = toHash(v)
		case num == fieldBlockMerkleRoot && typ == protowire.BytesType:
			blk.MerkleRoot, err = toHash(v)
		case num == fieldBlockHash && typ == protowire.BytesType:
			blk.Hash, err = toHash(v)
		case num == fieldBlockTx && typ == protowire.BytesType:
			var tx *Transaction
			tx, err = UnmarshalTransaction(v)
			if err == nil {
				blk.Transactions = append(blk.Transactions, tx)
			}
		default:
			return unexpected(num, typ)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return blk, nil
}
