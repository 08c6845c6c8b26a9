package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chrisraro/Giya-sub000/internal/attribution"
	"github.com/chrisraro/Giya-sub000/internal/matching"
	"github.com/chrisraro/Giya-sub000/internal/models"
	"github.com/chrisraro/Giya-sub000/internal/ocr"
	"github.com/chrisraro/Giya-sub000/internal/repository"
	"github.com/chrisraro/Giya-sub000/internal/storage"
	"github.com/chrisraro/Giya-sub000/pkg/errors"
	"github.com/chrisraro/Giya-sub000/pkg/logger"
)

// Processor drives one receipt through the full pipeline: claim, OCR, merchant
// verification, amount validation, points computation, ledger credit, then the
// best-effort side effects. Once claimed, a receipt always terminates in
// "processed" or "failed".
type Processor struct {
	receipts   *repository.ReceiptRepository
	businesses *repository.BusinessRepository
	customers  *repository.CustomerRepository
	ledger     *repository.LedgerRepository
	extractor  ocr.Extractor
	matcher    *matching.Matcher
	store      storage.ObjectStore
	tracker    attribution.Tracker
	ocrTimeout time.Duration
}

func NewProcessor(
	receipts *repository.ReceiptRepository,
	businesses *repository.BusinessRepository,
	customers *repository.CustomerRepository,
	ledger *repository.LedgerRepository,
	extractor ocr.Extractor,
	matcher *matching.Matcher,
	store storage.ObjectStore,
	tracker attribution.Tracker,
	ocrTimeout time.Duration,
) *Processor {
	if ocrTimeout <= 0 {
		ocrTimeout = 30 * time.Second
	}
	return &Processor{
		receipts:   receipts,
		businesses: businesses,
		customers:  customers,
		ledger:     ledger,
		extractor:  extractor,
		matcher:    matcher,
		store:      store,
		tracker:    tracker,
		ocrTimeout: ocrTimeout,
	}
}

// ExtractedData mirrors what OCR read off the receipt, echoed back to the
// caller on success.
type ExtractedData struct {
	MerchantName string           `json:"merchantName"`
	TotalAmount  *decimal.Decimal `json:"totalAmount"`
	Currency     string           `json:"currency"`
}

type Result struct {
	ReceiptID    string
	Extracted    ExtractedData
	PointsEarned int64
	Attribution  *attribution.Event
}

// Process runs the pipeline for one receipt id. Gate failures mark the receipt
// "failed" with a persisted reason and return a coded error; a ledger write
// failure is the exception — it is returned as LEDGER_WRITE_FAILURE and the
// reconciler requeues the receipt for another attempt.
func (p *Processor) Process(ctx context.Context, receiptID string) (*Result, error) {
	claimed, err := p.receipts.ClaimProcessing(ctx, receiptID)
	if err != nil {
		return nil, errors.New(errors.ErrInternal, "failed to claim receipt", err)
	}
	if !claimed {
		return nil, p.claimRejection(ctx, receiptID)
	}

	receipt, err := p.receipts.GetByID(ctx, receiptID)
	if err != nil || receipt == nil {
		return nil, errors.New(errors.ErrInternal, "failed to load claimed receipt", err)
	}

	log := logger.WithFields(map[string]interface{}{
		"receipt_id":  receipt.ID,
		"business_id": receipt.BusinessID,
		"customer_id": receipt.CustomerID,
	})

	ocrCtx, cancel := context.WithTimeout(ctx, p.ocrTimeout)
	extracted, err := p.extractor.Extract(ocrCtx, receipt.ImagePath)
	cancel()
	if err != nil {
		log.WithField("error", err).Warn("ocr extraction failed")
		return nil, p.fail(ctx, receipt, errors.ErrOCRFailure,
			"we could not read your receipt, please try a clearer photo", nil, nil, err)
	}

	business, err := p.businesses.GetByID(ctx, receipt.BusinessID)
	if err != nil {
		return nil, p.fail(ctx, receipt, errors.ErrInternal, "failed to load business", nil, extracted, err)
	}
	if business == nil {
		return nil, p.fail(ctx, receipt, errors.ErrInternal, "business no longer exists", nil, extracted, nil)
	}

	customer, err := p.customers.GetByID(ctx, receipt.CustomerID)
	if err != nil {
		return nil, p.fail(ctx, receipt, errors.ErrInternal, "failed to load customer", nil, extracted, err)
	}
	if customer == nil {
		return nil, p.fail(ctx, receipt, errors.ErrInternal, "customer no longer exists", nil, extracted, nil)
	}

	match := p.matcher.Match(business.Name, extracted.MerchantName)
	log.WithFields(map[string]interface{}{
		"expected": business.Name,
		"detected": extracted.MerchantName,
		"stage":    match.Stage,
		"score":    match.Score,
	}).Debug("merchant match evaluated")

	if !match.Matched {
		message := fmt.Sprintf("this receipt appears to be from %q but you scanned the code for %q",
			extracted.MerchantName, business.Name)
		if strings.TrimSpace(extracted.MerchantName) == "" {
			message = fmt.Sprintf("no merchant name could be read from the receipt, expected %q", business.Name)
		}
		return nil, p.fail(ctx, receipt, errors.ErrMerchantMismatch, message, map[string]string{
			"expected": business.Name,
			"detected": extracted.MerchantName,
		}, extracted, nil)
	}

	if !ValidAmount(extracted.TotalAmount) {
		return nil, p.fail(ctx, receipt, errors.ErrInvalidAmount,
			"the receipt total is missing or not a positive amount", nil, extracted, nil)
	}
	amount := *extracted.TotalAmount

	points, err := ComputePoints(amount, business.PointsPerUnit)
	if err != nil {
		return nil, p.fail(ctx, receipt, errors.ErrInternal, "points rate is misconfigured", nil, extracted, err)
	}

	entry := &models.PointsTransaction{
		ReceiptID:    receipt.ID,
		CustomerID:   receipt.CustomerID,
		BusinessID:   receipt.BusinessID,
		AmountSpent:  amount,
		Currency:     extracted.Currency,
		PointsEarned: points,
	}
	if err := p.ledger.Credit(ctx, entry); err != nil {
		// A retried receipt may already hold its ledger entry from an attempt
		// that crashed before the status update; the unique receipt index
		// turns that into a create conflict. Complete instead of failing.
		if count, countErr := p.ledger.CountByReceipt(ctx, receipt.ID); countErr == nil && count > 0 {
			log.Warn("ledger entry already exists for receipt, completing")
		} else {
			log.WithField("error", err).Error("ledger write failed after validation")
			if markErr := p.receipts.MarkFailed(ctx, receipt.ID, errors.ErrLedgerWrite,
				"points could not be recorded", extracted.MerchantName, nullAmount(extracted), extracted.Currency); markErr != nil {
				log.WithField("error", markErr).Error("failed to persist ledger failure")
			}
			return nil, errors.New(errors.ErrLedgerWrite, "your points could not be recorded, please try again", err)
		}
	}

	if err := p.receipts.MarkProcessed(ctx, receipt.ID, extracted.MerchantName,
		decimal.NullDecimal{Decimal: amount, Valid: true}, extracted.Currency, points); err != nil {
		// Points are committed; the receipt stays "processing" until the
		// reconciler requeues it and the retry completes via the path above.
		log.WithField("error", err).Error("failed to mark receipt processed")
		return nil, errors.New(errors.ErrInternal, "receipt state could not be updated", err)
	}

	log.WithFields(map[string]interface{}{
		"points": points,
		"amount": amount.String(),
		"stage":  match.Stage,
	}).Info("receipt processed")

	tracked := p.trackAttribution(ctx, customer, receipt, entry)
	p.cleanupImage(ctx, receipt)

	return &Result{
		ReceiptID: receipt.ID,
		Extracted: ExtractedData{
			MerchantName: extracted.MerchantName,
			TotalAmount:  extracted.TotalAmount,
			Currency:     extracted.Currency,
		},
		PointsEarned: points,
		Attribution:  tracked,
	}, nil
}

// claimRejection distinguishes an unknown receipt from one that is past the
// "uploaded" state.
func (p *Processor) claimRejection(ctx context.Context, receiptID string) error {
	receipt, err := p.receipts.GetByID(ctx, receiptID)
	if err != nil {
		return errors.New(errors.ErrInternal, "failed to load receipt", err)
	}
	if receipt == nil {
		return errors.New(errors.ErrReceiptNotFound, "receipt not found", nil)
	}
	return errors.New(errors.ErrAlreadyProcessed,
		fmt.Sprintf("receipt was already submitted (status: %s)", receipt.Status), nil)
}

func (p *Processor) fail(ctx context.Context, receipt *models.Receipt, code, message string, details map[string]string, extracted *ocr.Result, cause error) error {
	merchant, currency := "", ""
	amount := decimal.NullDecimal{}
	if extracted != nil {
		merchant = extracted.MerchantName
		currency = extracted.Currency
		amount = nullAmount(extracted)
	}

	if err := p.receipts.MarkFailed(ctx, receipt.ID, code, message, merchant, amount, currency); err != nil {
		logger.WithFields(map[string]interface{}{
			"receipt_id": receipt.ID,
			"error":      err,
		}).Error("failed to persist failure reason")
	}

	appErr := errors.New(code, message, cause)
	if details != nil {
		appErr.WithDetails(details)
	}
	return appErr
}

// trackAttribution emits a conversion event when a referred customer earns at
// a business for the first time. Failures are logged and discarded; they are
// not part of the transactional guarantee.
func (p *Processor) trackAttribution(ctx context.Context, customer *models.Customer, receipt *models.Receipt, entry *models.PointsTransaction) *attribution.Event {
	if customer.ReferredBusinessID == nil {
		return nil
	}

	count, err := p.ledger.CountByCustomerAndBusiness(ctx, customer.ID, receipt.BusinessID)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"receipt_id": receipt.ID,
			"error":      err,
		}).Warn("could not determine first-transaction status")
		return nil
	}
	if count != 1 {
		return nil
	}

	referrer, err := p.businesses.GetByID(ctx, *customer.ReferredBusinessID)
	if err != nil || referrer == nil || !referrer.TrackingConfigured() {
		return nil
	}

	event := attribution.Event{
		Value:               entry.AmountSpent,
		Currency:            entry.Currency,
		FirstTransaction:    true,
		ReferringBusinessID: referrer.ID,
		TrackingPixelID:     referrer.TrackingPixelID,
	}
	if err := p.tracker.Track(ctx, event); err != nil {
		logger.WithFields(map[string]interface{}{
			"receipt_id":  receipt.ID,
			"business_id": referrer.ID,
			"error":       err,
		}).Warn("attribution tracking failed")
		return nil
	}
	return &event
}

func (p *Processor) cleanupImage(ctx context.Context, receipt *models.Receipt) {
	if err := p.store.Delete(ctx, receipt.ImagePath); err != nil {
		logger.WithFields(map[string]interface{}{
			"receipt_id": receipt.ID,
			"image_path": receipt.ImagePath,
			"error":      err,
		}).Warn("failed to delete receipt image")
	}
}

func nullAmount(extracted *ocr.Result) decimal.NullDecimal {
	if extracted == nil || extracted.TotalAmount == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *extracted.TotalAmount, Valid: true}
}
