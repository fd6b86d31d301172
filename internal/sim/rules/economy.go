package rules

// TaxAmount is the per-tick levy on one agent's balance, floored toward
// zero. Negative balances are never taxed.
func TaxAmount(balance int64, rate float64) int64 {
	if balance <= 0 || rate <= 0 {
		return 0
	}
	amt := int64(float64(balance) * rate)
	if amt > balance {
		amt = balance
	}
	return amt
}

// SalaryPayable caps a salary disbursement at what the treasury holds.
func SalaryPayable(treasury, salary int64) int64 {
	if salary <= 0 || treasury <= 0 {
		return 0
	}
	if salary > treasury {
		return treasury
	}
	return salary
}
