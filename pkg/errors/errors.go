package errors

import "fmt"

type AppError struct {
	Code    string
	Message string
	Details map[string]string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails attaches user-facing key/value context, e.g. the expected and
// detected merchant names on a mismatch.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrInternal when the chain carries none.
func CodeOf(err error) string {
	for err != nil {
		if e, ok := err.(*AppError); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrInternal
}

// MessageOf returns the user-facing message of the outermost AppError in
// err's chain, or err.Error() when the chain carries none.
func MessageOf(err error) string {
	for e := err; e != nil; {
		if appErr, ok := e.(*AppError); ok {
			return appErr.Message
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// DetailsOf returns the details of the outermost AppError in err's chain.
func DetailsOf(err error) map[string]string {
	for err != nil {
		if e, ok := err.(*AppError); ok {
			return e.Details
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil
}

var (
	ErrConfigLoad       = "CONFIG_LOAD_ERROR"
	ErrDatabaseConnect  = "DATABASE_CONNECT_ERROR"
	ErrInvalidInput     = "INVALID_INPUT"
	ErrReceiptNotFound  = "RECEIPT_NOT_FOUND"
	ErrAlreadyProcessed = "ALREADY_PROCESSED"
	ErrOCRFailure       = "OCR_FAILURE"
	ErrMerchantMismatch = "MERCHANT_MISMATCH"
	ErrInvalidAmount    = "INVALID_AMOUNT"
	ErrLedgerWrite      = "LEDGER_WRITE_FAILURE"
	ErrInternal         = "INTERNAL_ERROR"
)
