package ledger

import "strings"

// NormalizeKey is the single place identity decisions are made. Every row,
// individual, and document identifier passes through here before it touches
// a ledger map: trimmed, internal whitespace collapsed, casefolded. Two
// display strings that differ only in spacing or case are the same entity.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// RowKey derives the stable identity of a result row from its displayed
// name, title, and date. The page number is deliberately excluded: the same
// row content can reappear on a different page across refreshes.
func RowKey(name, title, dateAdded string) string {
	return NormalizeKey(name) + "|" + NormalizeKey(title) + "|" + NormalizeKey(dateAdded)
}
