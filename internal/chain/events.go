package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Event topics are derived from the raw signatures so decoding does not need
// the full contract ABIs.
var (
	liquidateTopic = ethcrypto.Keccak256Hash(
		[]byte("Liquidate(address,address,bytes32,address,address,address,uint256,uint256,uint256,uint256)"))
	conversionTopic = ethcrypto.Keccak256Hash(
		[]byte("Conversion(address,address,address,uint256,uint256,int256)"))
)

// LiquidateEvent is the protocol's Liquidate log. User, Liquidator and
// LoanID are indexed; the rest rides in the data segment.
type LiquidateEvent struct {
	User                     common.Address
	Liquidator               common.Address
	LoanID                   common.Hash
	Lender                   common.Address
	LoanToken                common.Address
	CollateralToken          common.Address
	RepayAmount              *big.Int
	CollateralWithdrawAmount *big.Int
	CollateralToLoanRate     *big.Int
	CurrentMargin            *big.Int
}

// ConversionEvent is the AMM's Conversion log. FromToken, ToToken and Trader
// are indexed; the amounts ride in the data segment.
type ConversionEvent struct {
	FromToken     common.Address
	ToToken       common.Address
	Trader        common.Address
	Amount        *big.Int
	Return        *big.Int
	ConversionFee *big.Int
}

// DecodeLiquidate scans a receipt for the protocol's Liquidate log and
// decodes it. Returns an error when the receipt carries no such log.
func DecodeLiquidate(receipt *types.Receipt) (*LiquidateEvent, error) {
	for _, lg := range receipt.Logs {
		if len(lg.Topics) != 4 || lg.Topics[0] != liquidateTopic {
			continue
		}
		if len(lg.Data) < 7*32 {
			return nil, fmt.Errorf("chain: liquidate log data too short: %d bytes", len(lg.Data))
		}
		return &LiquidateEvent{
			User:                     common.BytesToAddress(lg.Topics[1].Bytes()),
			Liquidator:               common.BytesToAddress(lg.Topics[2].Bytes()),
			LoanID:                   lg.Topics[3],
			Lender:                   common.BytesToAddress(lg.Data[0:32]),
			LoanToken:                common.BytesToAddress(lg.Data[32:64]),
			CollateralToken:          common.BytesToAddress(lg.Data[64:96]),
			RepayAmount:              new(big.Int).SetBytes(lg.Data[96:128]),
			CollateralWithdrawAmount: new(big.Int).SetBytes(lg.Data[128:160]),
			CollateralToLoanRate:     new(big.Int).SetBytes(lg.Data[160:192]),
			CurrentMargin:            new(big.Int).SetBytes(lg.Data[192:224]),
		}, nil
	}
	return nil, fmt.Errorf("chain: no Liquidate log in receipt %s", receipt.TxHash.Hex())
}

// DecodeConversion scans a receipt for the AMM's Conversion log and decodes
// it. Returns an error when the receipt carries no such log.
func DecodeConversion(receipt *types.Receipt) (*ConversionEvent, error) {
	for _, lg := range receipt.Logs {
		if len(lg.Topics) != 4 || lg.Topics[0] != conversionTopic {
			continue
		}
		if len(lg.Data) < 3*32 {
			return nil, fmt.Errorf("chain: conversion log data too short: %d bytes", len(lg.Data))
		}
		return &ConversionEvent{
			FromToken:     common.BytesToAddress(lg.Topics[1].Bytes()),
			ToToken:       common.BytesToAddress(lg.Topics[2].Bytes()),
			Trader:        common.BytesToAddress(lg.Topics[3].Bytes()),
			Amount:        new(big.Int).SetBytes(lg.Data[0:32]),
			Return:        new(big.Int).SetBytes(lg.Data[32:64]),
			ConversionFee: new(big.Int).SetBytes(lg.Data[64:96]),
		}, nil
	}
	return nil, fmt.Errorf("chain: no Conversion log in receipt %s", receipt.TxHash.Hex())
}
