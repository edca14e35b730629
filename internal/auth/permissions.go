package auth

// Modules guarded by RBAC.
const (
	ModuleJournal       = "JOURNAL"
	ModuleInvoice       = "INVOICE"
	ModuleFinancialYear = "FINANCIAL_YEAR"
	ModuleSettings      = "SETTINGS"
	ModuleRBAC          = "RBAC"
	ModuleAuth          = "AUTH"
)

// Actions a permission may grant.
const (
	ActionCreate = "CREATE"
	ActionRead   = "READ"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionClose  = "CLOSE"
)

// BuiltinPermissions is the catalog ensured at startup.
var BuiltinPermissions = []Permission{
	{Module: ModuleJournal, Action: ActionCreate, Description: "Post journal entries"},
	{Module: ModuleJournal, Action: ActionRead, Description: "List journal entries"},
	{Module: ModuleInvoice, Action: ActionCreate, Description: "Create invoices"},
	{Module: ModuleInvoice, Action: ActionUpdate, Description: "Update invoices"},
	{Module: ModuleInvoice, Action: ActionDelete, Description: "Delete invoices"},
	{Module: ModuleFinancialYear, Action: ActionCreate, Description: "Open a financial year"},
	{Module: ModuleFinancialYear, Action: ActionClose, Description: "Close the open financial year"},
	{Module: ModuleFinancialYear, Action: ActionRead, Description: "View financial years"},
	{Module: ModuleSettings, Action: ActionUpdate, Description: "Change global settings"},
	{Module: ModuleRBAC, Action: ActionUpdate, Description: "Manage roles and assignments"},
}
