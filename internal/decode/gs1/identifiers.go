package gs1

// stockEntries is the built-in Application Identifier table.
// Lengths are value widths; for Variable entries they are the maximum.
var stockEntries = []Entry{
	{Code: "00", Purpose: "SSCC-18", Length: 18},
	{Code: "01", Purpose: "GTIN-14", Length: 14},
	{Code: "02", Purpose: "GTIN-14", Length: 14},
	{Code: "10", Purpose: "Batch", Length: 20, Variable: true},
	{Code: "11", Purpose: "Production Date", Length: 6},
	{Code: "12", Purpose: "Due Date", Length: 6},
	{Code: "13", Purpose: "Packaging Date", Length: 6},
	{Code: "15", Purpose: "Best Before Date", Length: 6},
	{Code: "16", Purpose: "Sell By Date", Length: 6},
	{Code: "17", Purpose: "Expiration Date", Length: 6},
	{Code: "20", Purpose: "Variant", Length: 2},
	{Code: "21", Purpose: "Serial Number", Length: 20, Variable: true},
	{Code: "30", Purpose: "Item Count", Length: 8, Variable: true},
	{Code: "37", Purpose: "Trade Item Count", Length: 8, Variable: true},
	{Code: "91", Purpose: "USPS", Length: 20},
	{Code: "253", Purpose: "GDTI", Length: 30, Variable: true},
	{Code: "255", Purpose: "GCN", Length: 13},
	{Code: "400", Purpose: "PO Number", Length: 30, Variable: true},
}

var stockTable = mustTable(stockEntries)

// DefaultTable returns the built-in identifier table. It is shared and
// read-only.
func DefaultTable() *Table {
	return stockTable
}

func mustTable(entries []Entry) *Table {
	t, err := NewTable(entries)
	if err != nil {
		panic("gs1: invalid stock table: " + err.Error())
	}
	return t
}
