package e

import "fmt"

var (
	// Внутренние ошибки с транзакциями
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// Ошибки движка пересчёта видимости
	ErrInvalidProductID     = fmt.Errorf("product id must be positive")
	ErrNoDomainsConfigured  = fmt.Errorf("no sales domains configured")
	ErrIncorrectEnvVariable = fmt.Errorf("incorrect env variable")
	ErrInvalidCronExpr      = fmt.Errorf("invalid cron expression")
)

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}
