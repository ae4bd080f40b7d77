package shared

import "fmt"

// invoiceLockNamespace keeps invoice advisory locks apart from other lock users ("INV").
const invoiceLockNamespace int64 = 0x494E56

// InvoiceYearLockKey builds the pg_advisory_xact_lock key serialising invoice numbering for a year.
func InvoiceYearLockKey(year int) int64 {
	return invoiceLockNamespace<<32 | int64(year)
}

// ReportCacheKey builds the redis key for a rendered traceability report.
func ReportCacheKey(deliveryID int64, format string) string {
	return fmt.Sprintf("report:traceability:%d:%s", deliveryID, format)
}
