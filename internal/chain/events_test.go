package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func word(n int64) []byte {
	return common.BigToHash(big.NewInt(n)).Bytes()
}

func addrWord(a common.Address) []byte {
	return common.BytesToHash(a.Bytes()).Bytes()
}

func receiptWithLog(lg *types.Log) *types.Receipt {
	return &types.Receipt{
		TxHash: common.HexToHash("0xabc"),
		Logs:   []*types.Log{lg},
	}
}

func TestDecodeLiquidate(t *testing.T) {
	user := common.HexToAddress("0x11")
	liquidator := common.HexToAddress("0x22")
	loanID := common.HexToHash("0x33")
	lender := common.HexToAddress("0x44")
	loanToken := common.HexToAddress("0x55")
	collateralToken := common.HexToAddress("0x66")

	var data []byte
	data = append(data, addrWord(lender)...)
	data = append(data, addrWord(loanToken)...)
	data = append(data, addrWord(collateralToken)...)
	data = append(data, word(1000)...) // repay
	data = append(data, word(900)...)  // collateral withdrawn
	data = append(data, word(42)...)   // collateral-to-loan rate
	data = append(data, word(7)...)    // current margin

	receipt := receiptWithLog(&types.Log{
		Topics: []common.Hash{
			liquidateTopic,
			common.BytesToHash(user.Bytes()),
			common.BytesToHash(liquidator.Bytes()),
			loanID,
		},
		Data: data,
	})

	ev, err := DecodeLiquidate(receipt)
	if err != nil {
		t.Fatalf("DecodeLiquidate() error = %v", err)
	}
	if ev.User != user || ev.Liquidator != liquidator || ev.LoanID != loanID {
		t.Errorf("indexed fields = %v/%v/%v", ev.User, ev.Liquidator, ev.LoanID)
	}
	if ev.Lender != lender || ev.LoanToken != loanToken || ev.CollateralToken != collateralToken {
		t.Errorf("address fields = %v/%v/%v", ev.Lender, ev.LoanToken, ev.CollateralToken)
	}
	if ev.RepayAmount.Int64() != 1000 {
		t.Errorf("RepayAmount = %v, want 1000", ev.RepayAmount)
	}
	if ev.CollateralWithdrawAmount.Int64() != 900 {
		t.Errorf("CollateralWithdrawAmount = %v, want 900", ev.CollateralWithdrawAmount)
	}
	if ev.CollateralToLoanRate.Int64() != 42 {
		t.Errorf("CollateralToLoanRate = %v, want 42", ev.CollateralToLoanRate)
	}
	if ev.CurrentMargin.Int64() != 7 {
		t.Errorf("CurrentMargin = %v, want 7", ev.CurrentMargin)
	}
}

func TestDecodeLiquidateMissingLog(t *testing.T) {
	receipt := receiptWithLog(&types.Log{
		Topics: []common.Hash{conversionTopic, {}, {}, {}},
		Data:   make([]byte, 3*32),
	})
	if _, err := DecodeLiquidate(receipt); err == nil {
		t.Fatal("DecodeLiquidate() expected error for receipt without Liquidate log")
	}
}

func TestDecodeLiquidateShortData(t *testing.T) {
	receipt := receiptWithLog(&types.Log{
		Topics: []common.Hash{liquidateTopic, {}, {}, {}},
		Data:   make([]byte, 6*32),
	})
	if _, err := DecodeLiquidate(receipt); err == nil {
		t.Fatal("DecodeLiquidate() expected error for truncated data")
	}
}

func TestDecodeConversion(t *testing.T) {
	from := common.HexToAddress("0xaa")
	to := common.HexToAddress("0xbb")
	trader := common.HexToAddress("0xcc")

	var data []byte
	data = append(data, word(500)...) // amount in
	data = append(data, word(510)...) // amount out
	data = append(data, word(2)...)   // fee

	receipt := receiptWithLog(&types.Log{
		Topics: []common.Hash{
			conversionTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BytesToHash(trader.Bytes()),
		},
		Data: data,
	})

	ev, err := DecodeConversion(receipt)
	if err != nil {
		t.Fatalf("DecodeConversion() error = %v", err)
	}
	if ev.FromToken != from || ev.ToToken != to || ev.Trader != trader {
		t.Errorf("indexed fields = %v/%v/%v", ev.FromToken, ev.ToToken, ev.Trader)
	}
	if ev.Amount.Int64() != 500 || ev.Return.Int64() != 510 || ev.ConversionFee.Int64() != 2 {
		t.Errorf("amounts = %v/%v/%v, want 500/510/2", ev.Amount, ev.Return, ev.ConversionFee)
	}
}

func TestDecodeConversionMissingLog(t *testing.T) {
	receipt := &types.Receipt{TxHash: common.HexToHash("0xdef")}
	if _, err := DecodeConversion(receipt); err == nil {
		t.Fatal("DecodeConversion() expected error for empty receipt")
	}
}
