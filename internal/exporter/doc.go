// Package exporter writes collected tracking events as CSV or XLSX.
//
// CSV output carries a UTF-8 BOM by default so spreadsheet applications
// detect the encoding. Both formats share the column layout in Headers;
// event properties are flattened into a single JSON column.
//
// Example usage:
//
//	format, err := exporter.ParseFormat(r.URL.Query().Get("format"))
//	if err != nil { ... }
//	w.Header().Set("Content-Type", format.ContentType())
//	err = exporter.Write(w, format, events)
package exporter
