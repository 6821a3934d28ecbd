package summary

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spendwatch/spendwatch/internal/bridge"
	"github.com/spendwatch/spendwatch/internal/period"
)

const systemPrompt = `You are a personal finance analyst. Summarize the user's spending for the billing period in plain language.
Point out notable trends, large or unusual expenses, and anything that needs attention. Be concise and use the data given.`

const topExpenses = 5

const dayLayout = "2006-01-02"

// Request carries everything needed to build a prompt for one billing period.
type Request struct {
	Period   period.BillingPeriod
	Accounts []bridge.Account
}

type datedTransaction struct {
	account string
	tx      bridge.Transaction
}

// BuildPrompt formats the billing period, account balances and transactions
// as a markdown prompt.
func BuildPrompt(req Request) string {
	txs := collect(req.Accounts)
	spent, received := totals(txs)
	days := req.Period.Days()

	var b strings.Builder
	fmt.Fprintf(&b, "Billing period: %s (%d days)\n", req.Period, days)
	fmt.Fprintf(&b, "Total spent: %s\n", spent.StringFixed(2))
	fmt.Fprintf(&b, "Total received: %s\n", received.StringFixed(2))
	if days > 0 {
		fmt.Fprintf(&b, "Daily spend rate: %s\n", spent.Div(decimal.NewFromInt(int64(days))).StringFixed(2))
	}

	b.WriteString("\n## Accounts\n\n")
	b.WriteString(FormatAccounts(req.Accounts))

	b.WriteString("\n## Largest expenses\n\n")
	b.WriteString(formatLargest(txs))

	b.WriteString("\n## Transactions\n\n")
	b.WriteString(formatTransactions(txs))

	b.WriteString("\nWrite a short summary of this period's spending.\n")
	return b.String()
}

// Messages wraps a prompt with the analyst system message.
func Messages(prompt string) []Message {
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
}

// FormatAccounts renders accounts as a markdown table.
func FormatAccounts(accounts []bridge.Account) string {
	if len(accounts) == 0 {
		return "No accounts.\n"
	}
	var b strings.Builder
	b.WriteString("| Account | Institution | Balance | Available | Last synced |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, a := range accounts {
		avail := "-"
		if a.AvailableBalance != nil {
			avail = a.AvailableBalance.StringFixed(2)
		}
		fmt.Fprintf(&b, "| %s | %s | %s %s | %s | %s |\n",
			cell(a.Name), cell(a.Org.Name), a.Balance.StringFixed(2), a.Currency, avail,
			time.Unix(a.BalanceDate, 0).Format(dayLayout))
	}
	return b.String()
}

func formatTransactions(txs []datedTransaction) string {
	if len(txs) == 0 {
		return "No transactions in this period.\n"
	}
	var b strings.Builder
	b.WriteString("| Date | Account | Description | Amount |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, t := range txs {
		desc := cell(t.tx.Description)
		if t.tx.Pending {
			desc += " (pending)"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			t.tx.When().Format(dayLayout), cell(t.account), desc, t.tx.Amount.StringFixed(2))
	}
	return b.String()
}

func formatLargest(txs []datedTransaction) string {
	var expenses []datedTransaction
	for _, t := range txs {
		if t.tx.Amount.IsNegative() {
			expenses = append(expenses, t)
		}
	}
	if len(expenses) == 0 {
		return "No expenses.\n"
	}
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].tx.Amount.LessThan(expenses[j].tx.Amount)
	})
	if len(expenses) > topExpenses {
		expenses = expenses[:topExpenses]
	}
	var b strings.Builder
	for i, t := range expenses {
		fmt.Fprintf(&b, "%d. %s: %s (%s)\n", i+1, cell(t.tx.Description), t.tx.Amount.Abs().StringFixed(2), t.tx.When().Format(dayLayout))
	}
	return b.String()
}

// collect flattens transactions across accounts, newest first.
func collect(accounts []bridge.Account) []datedTransaction {
	var out []datedTransaction
	for _, a := range accounts {
		for _, tx := range a.Transactions {
			out = append(out, datedTransaction{account: a.Name, tx: tx})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].tx.When().After(out[j].tx.When())
	})
	return out
}

func totals(txs []datedTransaction) (spent, received decimal.Decimal) {
	for _, t := range txs {
		if t.tx.Amount.IsNegative() {
			spent = spent.Add(t.tx.Amount.Abs())
		} else {
			received = received.Add(t.tx.Amount)
		}
	}
	return spent, received
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "/")
	return strings.Join(strings.Fields(s), " ")
}
