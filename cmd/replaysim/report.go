package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/marketsim/engine/internal/domain"
)

// printAccountTable renders the account's financials as a single-row
// console table.
func printAccountTable(acct domain.AccountState) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Cash", "Equity", "Buying Power", "Long MV", "Short MV", "Unrealized P&L", "Realized P&L", "Fees")
	table.Append(
		fmt.Sprintf("$%.2f", acct.Cash),
		fmt.Sprintf("$%.2f", acct.Equity),
		fmt.Sprintf("$%.2f", acct.BuyingPower),
		fmt.Sprintf("$%.2f", acct.LongMarketValue),
		fmt.Sprintf("$%.2f", acct.ShortMarketValue),
		fmt.Sprintf("$%.2f", acct.UnrealizedPL),
		fmt.Sprintf("$%.2f", acct.RealizedPL),
		fmt.Sprintf("$%.2f", acct.AccruedFees),
	)
	table.Render()
}

// printPositionsTable renders one row per open position.
func printPositionsTable(positions []domain.Position) {
	if len(positions) == 0 {
		fmt.Println("no open positions")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Symbol", "Qty", "Avg Entry", "Realized P&L")
	for _, p := range positions {
		table.Append(
			p.Symbol,
			fmt.Sprintf("%.2f", p.Qty),
			fmt.Sprintf("$%.2f", p.AvgEntryPrice),
			fmt.Sprintf("$%.2f", p.RealizedPL),
		)
	}
	table.Render()
}
