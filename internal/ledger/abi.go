package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Escrow contract functions.
const (
	FnDeposit        = "deposit"
	FnRelease        = "release"
	FnArbiterRelease = "arbiterRelease"
	FnArbiterCancel  = "arbiterCancel"
)

const escrowABIJSON = `[
  {"type":"constructor","stateMutability":"nonpayable","inputs":[
    {"name":"client","type":"address"},
    {"name":"freelancer","type":"address"},
    {"name":"arbiter","type":"address"}]},
  {"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
  {"type":"function","name":"release","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"arbiterRelease","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"arbiterCancel","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"state","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// EscrowABI is the function contract of the escrow bytecode.
var EscrowABI = mustParseABI(escrowABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse escrow abi: %v", err))
	}
	return parsed
}

// EncodeEscrowConstructor ABI-encodes the escrow constructor arguments.
func EncodeEscrowConstructor(client, freelancer, arbiter string) ([]byte, error) {
	var addrs []any
	for _, account := range []string{client, freelancer, arbiter} {
		addr, err := AccountAddress(account)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return EscrowABI.Pack("", addrs...)
}

// EncodeEscrowCall ABI-encodes a call to function.
func EncodeEscrowCall(function string, args ...any) ([]byte, error) {
	if _, ok := EscrowABI.Methods[function]; !ok {
		return nil, fmt.Errorf("escrow contract has no function %q", function)
	}
	return EscrowABI.Pack(function, args...)
}
