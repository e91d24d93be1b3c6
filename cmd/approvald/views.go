package main

import (
	"fmt"
	"strconv"

	"approval-chain/pkg/account"
	"approval-chain/pkg/banking"
	"approval-chain/pkg/transaction"

	"github.com/pterm/pterm"
)

func accountNumber(a *account.Account) string {
	if a == nil {
		return "-"
	}
	return a.Number
}

func coloredStatus(s transaction.Status) string {
	switch s {
	case transaction.StatusCompleted:
		return pterm.Green(string(s))
	case transaction.StatusFailed, transaction.StatusCancelled:
		return pterm.Red(string(s))
	case transaction.StatusPendingApproval:
		return pterm.Yellow(string(s))
	default:
		return pterm.Gray(string(s))
	}
}

func renderTransactions(title string, txs []*transaction.Transaction) error {
	tableData := pterm.TableData{{"ID", "Reference", "Type", "Amount", "From", "To", "Status", "Created"}}
	for _, tx := range txs {
		tableData = append(tableData, []string{
			strconv.FormatInt(tx.ID, 10),
			tx.Reference,
			string(tx.Type),
			tx.Amount.StringFixed(2),
			accountNumber(tx.From),
			accountNumber(tx.To),
			coloredStatus(tx.Status),
			tx.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	pterm.DefaultSection.Println(title)
	if err := pterm.DefaultTable.WithHasHeader().WithData(tableData).Render(); err != nil {
		return err
	}
	pterm.Info.Printf("Total: %d transactions\n", len(txs))
	return nil
}

func renderTransaction(tx *transaction.Transaction) error {
	pterm.DefaultSection.Printf("Transaction #%d", tx.ID)
	info := pterm.TableData{
		{"Reference", tx.Reference},
		{"Type", string(tx.Type)},
		{"Amount", tx.Amount.StringFixed(2)},
		{"From", accountNumber(tx.From)},
		{"To", accountNumber(tx.To)},
		{"Status", coloredStatus(tx.Status)},
	}
	if tx.FailureReason != "" {
		info = append(info, []string{"Failure", tx.FailureReason})
	}
	if tx.ApprovedBy != nil {
		info = append(info, []string{"Approved by", strconv.FormatInt(*tx.ApprovedBy, 10)})
	}
	if err := pterm.DefaultTable.WithData(info).Render(); err != nil {
		return err
	}

	audit := tx.Audit()
	if len(audit) == 0 {
		return nil
	}
	trail := pterm.TableData{{"Handler", "Message", "At"}}
	for _, e := range audit {
		trail = append(trail, []string{e.Handler, e.Message, e.At.Format("15:04:05.000")})
	}
	pterm.DefaultSection.Println("Audit Trail")
	return pterm.DefaultTable.WithHasHeader().WithData(trail).Render()
}

func renderAccount(a *account.Account) error {
	pterm.DefaultSection.Printf("Account %s", a.Number)
	info := pterm.TableData{
		{"Kind", string(a.Kind)},
		{"Owner", strconv.FormatInt(a.OwnerID, 10)},
		{"Status", string(a.Status)},
		{"Balance", a.TotalBalance().StringFixed(2)},
		{"Available", a.AvailableBalance().StringFixed(2)},
	}
	if a.MinimumBalance.Valid {
		minimum := a.MinimumBalance.Decimal.StringFixed(2)
		if a.BelowMinimum() {
			minimum += " (below)"
		}
		info = append(info, []string{"Minimum", minimum})
	}
	if a.IsComposite() {
		info = append(info,
			[]string{"Name", a.Name},
			[]string{"Group type", string(a.GroupType)},
			[]string{"Members", fmt.Sprintf("%d / %s", a.MemberCount(), maxMembers(a.MaxMembers))},
		)
	}
	if err := pterm.DefaultTable.WithData(info).Render(); err != nil {
		return err
	}

	if !a.IsComposite() || a.MemberCount() == 0 {
		return nil
	}
	members := pterm.TableData{{"Number", "Kind", "Status", "Balance"}}
	for _, m := range a.Members() {
		members = append(members, []string{m.Number, string(m.Kind), string(m.Status), m.Balance.StringFixed(2)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(members).Render()
}

func maxMembers(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

func renderSweep(report banking.SweepReport) {
	pterm.DefaultSection.Println("Sweep")
	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"Processed", strconv.Itoa(report.Processed)},
		{"Completed", strconv.Itoa(report.Completed)},
		{"Failed", strconv.Itoa(report.Failed)},
		{"Still pending", strconv.Itoa(report.StillPending)},
	}).Render()
	if report.Err != nil {
		pterm.Warning.Printf("Some transactions could not be processed: %v\n", report.Err)
	}
}
