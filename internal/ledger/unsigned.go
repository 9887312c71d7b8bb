package ledger

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// Kinds of unsigned operations handed to external signers.
const (
	KindTopicMessage   = "TOPIC_MESSAGE"
	KindContractCreate = "CONTRACT_CREATE"
	KindContractCall   = "CONTRACT_CALL"
)

// MaxMessageBytes is the largest payload a single channel message may carry.
const MaxMessageBytes = 1024

// UnsignedTx is an operation body awaiting a signature. It is RLP encoded
// and base64 wrapped on the wire; the signer returns the signed bytes that
// go to Gateway.SubmitSigned.
type UnsignedTx struct {
	Kind            string
	TransactionID   string
	Payer           string
	Node            string
	ValidStartNanos uint64
	ValidSeconds    uint64
	Memo            string
	TopicID         string
	Message         []byte
	FileID          string
	ContractID      string
	Gas             uint64
	Amount          uint64
	CallData        []byte
}

// Encode returns the base64 wire form.
func (u UnsignedTx) Encode() (string, error) {
	raw, err := rlp.EncodeToBytes(&u)
	if err != nil {
		return "", fmt.Errorf("encode unsigned %s: %w", u.Kind, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Envelope is the JSON form of an unsigned operation handed to a signer.
type Envelope struct {
	Kind          string `json:"kind"`
	TransactionID string `json:"transaction_id"`
	Payer         string `json:"payer"`
	Payload       string `json:"payload"`
}

func (u UnsignedTx) Envelope() (Envelope, error) {
	payload, err := u.Encode()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: u.Kind, TransactionID: u.TransactionID, Payer: u.Payer, Payload: payload}, nil
}

// DecodeUnsigned parses the base64 wire form.
func DecodeUnsigned(s string) (UnsignedTx, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return UnsignedTx{}, fmt.Errorf("decode unsigned payload: %w", err)
	}
	var u UnsignedTx
	if err := rlp.DecodeBytes(raw, &u); err != nil {
		return UnsignedTx{}, fmt.Errorf("decode unsigned payload: %w", err)
	}
	return u, nil
}

// TransactionIDAt formats the client-side transaction id payer@seconds.nanos.
func TransactionIDAt(payer string, validStart time.Time) string {
	return fmt.Sprintf("%s@%d.%09d", payer, validStart.Unix(), validStart.Nanosecond())
}

// Builder constructs unsigned operations.
type Builder struct {
	NodeAccountID string
	ValidDuration time.Duration
	Now           func() time.Time
}

func (b Builder) base(kind, payer, memo string) (UnsignedTx, error) {
	if _, err := ParseEntityID(payer); err != nil {
		return UnsignedTx{}, fmt.Errorf("payer: %w", err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	valid := b.ValidDuration
	if valid <= 0 {
		valid = 120 * time.Second
	}
	start := now().UTC()
	return UnsignedTx{
		Kind:            kind,
		TransactionID:   TransactionIDAt(payer, start),
		Payer:           payer,
		Node:            b.NodeAccountID,
		ValidStartNanos: uint64(start.UnixNano()),
		ValidSeconds:    uint64(valid / time.Second),
		Memo:            memo,
	}, nil
}

// TopicMessage builds a channel message submission paid by payer.
func (b Builder) TopicMessage(payer, topicID string, message []byte) (UnsignedTx, error) {
	if len(message) == 0 {
		return UnsignedTx{}, fmt.Errorf("message is empty")
	}
	if len(message) > MaxMessageBytes {
		return UnsignedTx{}, fmt.Errorf("message is %d bytes; limit is %d", len(message), MaxMessageBytes)
	}
	if _, err := ParseEntityID(topicID); err != nil {
		return UnsignedTx{}, fmt.Errorf("topic: %w", err)
	}
	tx, err := b.base(KindTopicMessage, payer, "")
	if err != nil {
		return UnsignedTx{}, err
	}
	tx.TopicID = topicID
	tx.Message = message
	return tx, nil
}

// ContractCreate builds a contract deployment from staged bytecode.
func (b Builder) ContractCreate(payer, fileID string, gas uint64, constructorArgs []byte, memo string) (UnsignedTx, error) {
	if _, err := ParseEntityID(fileID); err != nil {
		return UnsignedTx{}, fmt.Errorf("bytecode file: %w", err)
	}
	tx, err := b.base(KindContractCreate, payer, memo)
	if err != nil {
		return UnsignedTx{}, err
	}
	tx.FileID = fileID
	tx.Gas = gas
	tx.CallData = constructorArgs
	return tx, nil
}

// ContractCall builds a call of function on contractID, attaching amount
// in the ledger's smallest unit.
func (b Builder) ContractCall(payer, contractID, function string, gas, amount uint64) (UnsignedTx, error) {
	if _, err := ParseEntityID(contractID); err != nil {
		return UnsignedTx{}, fmt.Errorf("contract: %w", err)
	}
	data, err := EncodeEscrowCall(function)
	if err != nil {
		return UnsignedTx{}, err
	}
	tx, err := b.base(KindContractCall, payer, function)
	if err != nil {
		return UnsignedTx{}, err
	}
	tx.ContractID = contractID
	tx.Gas = gas
	tx.Amount = amount
	tx.CallData = data
	return tx, nil
}
