package models

// RunState is a state of the outward recreation state machine.
type RunState string

const (
	RunLoaded          RunState = "Loaded"
	RunClassified      RunState = "Classified"
	RunCodesResolved   RunState = "CodesResolved"
	RunReconciled      RunState = "Reconciled"
	RunSecurityStamped RunState = "SecurityStamped"
	RunValueDated      RunState = "ValueDated"
	RunFormatted       RunState = "Formatted"
	RunReleased        RunState = "Released"
	RunHalted          RunState = "Halted"
)

// BatchType selects the value-date rule set for an outward run.
type BatchType string

const (
	BatchNormal BatchType = "normal"
	BatchSalary BatchType = "salary"
)

// BranchTotals are the values computed over one branch's transactions.
type BranchTotals struct {
	CreditTotal int64 `json:"credit_total"`
	CreditCount int   `json:"credit_count"`
	DebitTotal  int64 `json:"debit_total"`
	DebitCount  int   `json:"debit_count"`
	AccountHash int64 `json:"account_hash"`
}

// IsZero reports whether the branch carries no value at all.
func (t BranchTotals) IsZero() bool {
	return t.CreditTotal == 0 && t.DebitTotal == 0
}

// AccountHashModulus keeps the account hash inside its 18-digit field.
const AccountHashModulus int64 = 1_000_000_000_000_000_000

// FieldMismatch is one declared-versus-computed difference in a header.
type FieldMismatch struct {
	Field    string `json:"field"`
	Declared string `json:"declared"`
	Computed string `json:"computed"`
}

// BranchReconciliation is the outcome of reconciling one branch.
type BranchReconciliation struct {
	BranchCode string          `json:"branch_code"`
	Computed   BranchTotals    `json:"computed"`
	Mismatches []FieldMismatch `json:"mismatches,omitempty"`
	ZeroValue  bool            `json:"zero_value"`
}

// Balanced reports whether every declared value matched.
func (r BranchReconciliation) Balanced() bool { return len(r.Mismatches) == 0 }

// Eligible reports whether the branch may be released.
func (r BranchReconciliation) Eligible() bool { return r.Balanced() && !r.ZeroValue }

// InvalidTransaction is a transaction kept out of a released file.
type InvalidTransaction struct {
	FileName      string `json:"file_name"`
	BranchCode    string `json:"branch_code"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
	Detail        string `json:"detail,omitempty"`
	DestAccountNo string `json:"dest_account_no"`
	OrigAccountNo string `json:"orig_account_no"`
	Amount        Amount `json:"amount"`
}

// ExcludedBranch is a branch kept out of a released file.
type ExcludedBranch struct {
	FileName   string          `json:"file_name"`
	BranchCode string          `json:"branch_code"`
	Reason     string          `json:"reason"`
	Mismatches []FieldMismatch `json:"mismatches,omitempty"`
}
