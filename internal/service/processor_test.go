package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/chrisraro/Giya-sub000/internal/attribution"
	"github.com/chrisraro/Giya-sub000/internal/matching"
	"github.com/chrisraro/Giya-sub000/internal/models"
	"github.com/chrisraro/Giya-sub000/internal/ocr"
	"github.com/chrisraro/Giya-sub000/internal/repository"
	apperrors "github.com/chrisraro/Giya-sub000/pkg/errors"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	// Serialize access; sqlite does not tolerate concurrent writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Receipt{},
		&models.Business{},
		&models.Customer{},
		&models.PointsTransaction{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return db
}

type fakeExtractor struct {
	result *ocr.Result
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, imagePath string) (*ocr.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeStore struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeStore) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, path)
	return nil
}

type fakeTracker struct {
	mu     sync.Mutex
	events []attribution.Event
	err    error
}

func (f *fakeTracker) Track(ctx context.Context, event attribution.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func dec(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d := decimal.RequireFromString(s)
	return &d
}

func seedBusiness(t *testing.T, db *gorm.DB, name, perUnit, pixel string) *models.Business {
	t.Helper()
	business := &models.Business{
		ID:              uuid.NewString(),
		Name:            name,
		PointsPerUnit:   decimal.RequireFromString(perUnit),
		TrackingPixelID: pixel,
	}
	if err := db.Create(business).Error; err != nil {
		t.Fatalf("failed to seed business: %v", err)
	}
	return business
}

func seedCustomer(t *testing.T, db *gorm.DB, referredBy *string) *models.Customer {
	t.Helper()
	customer := &models.Customer{
		ID:                 uuid.NewString(),
		ReferredBusinessID: referredBy,
	}
	if err := db.Create(customer).Error; err != nil {
		t.Fatalf("failed to seed customer: %v", err)
	}
	return customer
}

func seedReceipt(t *testing.T, db *gorm.DB, customerID, businessID string) *models.Receipt {
	t.Helper()
	receipt := &models.Receipt{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		BusinessID: businessID,
		ImagePath:  "receipts/" + uuid.NewString() + ".jpg",
		Status:     models.ReceiptStatusUploaded,
	}
	if err := db.Create(receipt).Error; err != nil {
		t.Fatalf("failed to seed receipt: %v", err)
	}
	return receipt
}

func newTestProcessor(db *gorm.DB, extractor ocr.Extractor, store *fakeStore, tracker *fakeTracker) *Processor {
	return NewProcessor(
		repository.NewReceiptRepository(db),
		repository.NewBusinessRepository(db),
		repository.NewCustomerRepository(db),
		repository.NewLedgerRepository(db),
		extractor,
		matching.New(matching.DefaultConfig()),
		store,
		tracker,
		5*time.Second,
	)
}

func reloadReceipt(t *testing.T, db *gorm.DB, id string) *models.Receipt {
	t.Helper()
	var receipt models.Receipt
	if err := db.First(&receipt, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to reload receipt: %v", err)
	}
	return &receipt
}

func customerPoints(t *testing.T, db *gorm.DB, id string) int64 {
	t.Helper()
	var customer models.Customer
	if err := db.First(&customer, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to reload customer: %v", err)
	}
	return customer.TotalPoints
}

func ledgerCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&models.PointsTransaction{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count ledger: %v", err)
	}
	return count
}

func TestProcessSuccess(t *testing.T) {
	db := testDB(t)
	business := seedBusiness(t, db, "Jollibee Naga", "100", "")
	customer := seedCustomer(t, db, nil)
	receipt := seedReceipt(t, db, customer.ID, business.ID)

	store := &fakeStore{}
	tracker := &fakeTracker{}
	p := newTestProcessor(db, &fakeExtractor{result: &ocr.Result{
		MerchantName: "JOLLIBEE NAGA BRANCH",
		TotalAmount:  dec(t, "450"),
		Currency:     "PHP",
	}}, store, tracker)

	result, err := p.Process(context.Background(), receipt.ID)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if result.PointsEarned != 4 {
		t.Errorf("PointsEarned = %d, want 4", result.PointsEarned)
	}
	if result.Extracted.MerchantName != "JOLLIBEE NAGA BRANCH" {
		t.Errorf("Extracted.MerchantName = %q", result.Extracted.MerchantName)
	}

	got := reloadReceipt(t, db, receipt.ID)
	if got.Status != models.ReceiptStatusProcessed {
		t.Errorf("status = %s, want processed", got.Status)
	}
	if got.PointsEarned != 4 {
		t.Errorf("receipt points = %d, want 4", got.PointsEarned)
	}
	if got.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}
	if !got.ExtractedAmount.Valid || !got.ExtractedAmount.Decimal.Equal(decimal.RequireFromString("450")) {
		t.Errorf("ExtractedAmount = %+v, want 450", got.ExtractedAmount)
	}

	if n := ledgerCount(t, db); n != 1 {
		t.Errorf("ledger entries = %d, want 1", n)
	}
	if points := customerPoints(t, db, customer.ID); points != 4 {
		t.Errorf("customer aggregate = %d, want 4", points)
	}
	if len(store.deleted) != 1 || store.deleted[0] != receipt.ImagePath {
		t.Errorf("deleted images = %v, want [%s]", store.deleted, receipt.ImagePath)
	}
}

func TestProcessMerchantMismatch(t *testing.T) {
	db := testDB(t)
	business := seedBusiness(t, db, "ABC Store", "100", "")
	customer := seedCustomer(t, db, nil)
	receipt := seedReceipt(t, db, customer.ID, business.ID)

	p := newTestProcessor(db, &fakeExtractor{result: &ocr.Result{
		MerchantName: "XYZ Mart",
		TotalAmount:  dec(t, "450"),
		Currency:     "PHP",
	}}, &fakeStore{}, &fakeTracker{})

	_, err := p.Process(context.Background(), receipt.ID)
	if apperrors.CodeOf(err) != apperrors.ErrMerchantMismatch {
		t.Fatalf("error code = %s, want merchant mismatch (err: %v)", apperrors.CodeOf(err), err)
	}

	details := apperrors.DetailsOf(err)
	if details["expected"] != "ABC Store" || details["detected"] != "XYZ Mart" {
		t.Errorf("mismatch details = %v, want expected/detected names", details)
	}

	got := reloadReceipt(t, db, receipt.ID)
	if got.Status != models.ReceiptStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.FailureCode != apperrors.ErrMerchantMismatch {
		t.Errorf("failure code = %s", got.FailureCode)
	}
	if got.DetectedMerchant != "XYZ Mart" {
		t.Errorf("detected merchant = %q, want recorded for support", got.DetectedMerchant)
	}

	if n := ledgerCount(t, db); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
	if points := customerPoints(t, db, customer.ID); points != 0 {
		t.Errorf("customer aggregate = %d, want 0", points)
	}
}

func TestProcessInvalidAmount(t *testing.T) {
	db := testDB(t)

	tests := []struct {
		name   string
		amount *decimal.Decimal
	}{
		{name: "zero", amount: dec(t, "0")},
		{name: "negative", amount: dec(t, "-50")},
		{name: "missing", amount: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			business := seedBusiness(t, db, "Jollibee Naga", "100", "")
			customer := seedCustomer(t, db, nil)
			receipt := seedReceipt(t, db, customer.ID, business.ID)

			p := newTestProcessor(db, &fakeExtractor{result: &ocr.Result{
				MerchantName: "Jollibee Naga",
				TotalAmount:  tt.amount,
				Currency:     "PHP",
			}}, &fakeStore{}, &fakeTracker{})

			_, err := p.Process(context.Background(), receipt.ID)
			if apperrors.CodeOf(err) != apperrors.ErrInvalidAmount {
				t.Fatalf("error code = %s, want invalid amount (err: %v)", apperrors.CodeOf(err), err)
			}

			got := reloadReceipt(t, db, receipt.ID)
			if got.Status != models.ReceiptStatusFailed {
				t.Errorf("status = %s, want failed", got.Status)
			}
			if points := customerPoints(t, db, customer.ID); points != 0 {
				t.Errorf("customer aggregate = %d, want 0", points)
			}
		})
	}
}

func TestProcessOCRFailure(t *testing.T) {
	db := testDB(t)
	business := seedBusiness(t, db, "Jollibee Naga", "100", "")
	customer := seedCustomer(t, db, nil)
	receipt := seedReceipt(t, db, customer.ID, business.ID)

	p := newTestProcessor(db, &fakeExtractor{err: errors.New("service unavailable")}, &fakeStore{}, &fakeTracker{})

	_, err := p.Process(context.Background(), receipt.ID)
	if apperrors.CodeOf(err) != apperrors.ErrOCRFailure {
		t.Fatalf("error code = %s, want ocr failure (err: %v)", apperrors.CodeOf(err), err)
	}

	got := reloadReceipt(t, db, receipt.ID)
	if got.Status != models.ReceiptStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.FailureReason == "" {
		t.Error("failure reason not persisted")
	}
}

func TestProcessUnknownReceipt(t *testing.T) {
	db := testDB(t)
	p := newTestProcessor(db, &fakeExtractor{}, &fakeStore{}, &fakeTracker{})

	_, err := p.Process(context.Background(), uuid.NewString())
	if apperrors.CodeOf(err) != apperrors.ErrReceiptNotFound {
		t.Fatalf("error code = %s, want not found (err: %v)", apperrors.CodeOf(err), err)
	}
}

func TestProcessIdempotent(t *testing.T) {
	db := testDB(t)
	business := seedBusiness(t, db, "Jollibee Naga", "100", "")
	customer := seedCustomer(t, db, nil)
	receipt := seedReceipt(t, db, customer.ID, business.ID)

	p := newTestProcessor(db, &fakeExtractor{result: &ocr.Result{
		MerchantName: "Jollibee Naga",
		TotalAmount:  dec(t, "450"),
		Currency:     "PHP",
	}}, &fakeStore{}, &fakeTracker{})

	if _, err := p.Process(context.Background(), receipt.ID); err != nil {
		t.Fatalf("first Process returned error: %v", err)
	}

	_, err := p.Process(context.Background(), receipt.ID)
	if apperrors.CodeOf(err) != apperrors.ErrAlreadyProcessed {
		t.Fatalf("second call error code = %s, want already processed (err: %v)", apperrors.CodeOf(err), err)
	}

	if n := ledgerCount(t, db); n != 1 {
		t.Errorf("ledger entries = %d, want 1", n)
	}
	if points := customerPoints(t, db, customer.ID); points != 4 {
		t.Errorf("customer aggregate = %d, want 4", points)
	}
}

func TestProcessConcurrentInvocations(t *testing.T) {
	db := testDB(t)
	business := seedBusiness(t, db, "Jollibee Naga", "100", "")
	customer := seedCustomer(t, db, nil)
	receipt := seedReceipt(t, db, customer.ID, business.ID)

	p := newTestProcessor(db, &fakeExtractor{result: &ocr.Result{
		MerchantName: "Jollibee Naga",
		TotalAmount:  dec(t, "450"),
		Currency:     "PHP",
	}}, &fakeStore{}, &fakeTracker{})

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = p.Process(context.Background(), receipt.ID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("successful invocations = %d, want exactly 1", successes)
	}
	if n := ledgerCount(t, db); n != 1 {
		t.Errorf("ledger entries = %d, want 1", n)
	}
	if points := customerPoints(t, db, customer.ID); points != 4 {
		t.Errorf("customer aggregate = %d, want 4", points)
	}
}

func TestProcessCompletesAfterCrashedAttempt(t *testing.T) {
	db := testDB(t)
	business := seedBusiness(t, db, "Jollibee Naga", "100", "")
	customer := seedCustomer(t, db, nil)
	receipt := seedReceipt(t, db, customer.ID, business.ID)

	// A previous attempt committed the ledger entry and aggregate but crashed
	// before the status update; the reconciler then requeued the receipt.
	if err := db.Create(&models.PointsTransaction{
		ReceiptID:    receipt.ID,
		CustomerID:   customer.ID,
		BusinessID:   business.ID,
		AmountSpent:  decimal.RequireFromString("450"),
		Currency:     "PHP",
		PointsEarned: 4,
	}).Error; err != nil {
		t.Fatalf("failed to seed ledger entry: %v", err)
	}
	if err := db.Model(&models.Customer{}).Where("id = ?", customer.ID).
		Update("total_points", 4).Error; err != nil {
		t.Fatalf("failed to seed aggregate: %v", err)
	}

	p := newTestProcessor(db, &fakeExtractor{result: &ocr.Result{
		MerchantName: "Jollibee Naga",
		TotalAmount:  dec(t, "450"),
		Currency:     "PHP",
	}}, &fakeStore{}, &fakeTracker{})

	result, err := p.Process(context.Background(), receipt.ID)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if result.PointsEarned != 4 {
		t.Errorf("PointsEarned = %d, want 4", result.PointsEarned)
	}

	if got := reloadReceipt(t, db, receipt.ID); got.Status != models.ReceiptStatusProcessed {
		t.Errorf("status = %s, want processed", got.Status)
	}
	// No double credit.
	if n := ledgerCount(t, db); n != 1 {
		t.Errorf("ledger entries = %d, want 1", n)
	}
	if points := customerPoints(t, db, customer.ID); points != 4 {
		t.Errorf("customer aggregate = %d, want 4", points)
	}
}

func TestProcessAttributionFirstTransaction(t *testing.T) {
	db := testDB(t)
	referrer := seedBusiness(t, db, "Referring Cafe", "100", "px-123")
	business := seedBusiness(t, db, "Jollibee Naga", "100", "")
	customer := seedCustomer(t, db, &referrer.ID)
	receipt := seedReceipt(t, db, customer.ID, business.ID)

	tracker := &fakeTracker{}
	p := newTestProcessor(db, &fakeExtractor{result: &ocr.Result{
		MerchantName: "Jollibee Naga",
		TotalAmount:  dec(t, "450"),
		Currency:     "PHP",
	}}, &fakeStore{}, tracker)

	result, err := p.Process(context.Background(), receipt.ID)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if result.Attribution == nil {
		t.Fatal("Attribution = nil, want event for first transaction")
	}

	if len(tracker.events) != 1 {
		t.Fatalf("tracked events = %d, want 1", len(tracker.events))
	}
	event := tracker.events[0]
	if !event.FirstTransaction {
		t.Error("FirstTransaction = false, want true")
	}
	if !event.Value.Equal(decimal.RequireFromString("450")) {
		t.Errorf("event value = %s, want 450", event.Value)
	}
	if event.TrackingPixelID != "px-123" || event.ReferringBusinessID != referrer.ID {
		t.Errorf("event = %+v, want referrer tracking config", event)
	}

	// A second receipt at the same business is no longer a first transaction.
	second := seedReceipt(t, db, customer.ID, business.ID)
	result, err = p.Process(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("second Process returned error: %v", err)
	}
	if result.Attribution != nil {
		t.Error("Attribution set on second transaction, want nil")
	}
	if len(tracker.events) != 1 {
		t.Errorf("tracked events = %d after second receipt, want 1", len(tracker.events))
	}
}

func TestProcessAttributionSkippedWithoutTrackingConfig(t *testing.T) {
	db := testDB(t)
	referrer := seedBusiness(t, db, "Referring Cafe", "100", "")
	business := seedBusiness(t, db, "Jollibee Naga", "100", "")
	customer := seedCustomer(t, db, &referrer.ID)
	receipt := seedReceipt(t, db, customer.ID, business.ID)

	tracker := &fakeTracker{}
	p := newTestProcessor(db, &fakeExtractor{result: &ocr.Result{
		MerchantName: "Jollibee Naga",
		TotalAmount:  dec(t, "450"),
		Currency:     "PHP",
	}}, &fakeStore{}, tracker)

	result, err := p.Process(context.Background(), receipt.ID)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if result.Attribution != nil {
		t.Error("Attribution set without tracking config, want nil")
	}
	if len(tracker.events) != 0 {
		t.Errorf("tracked events = %d, want 0", len(tracker.events))
	}
}

func TestProcessSideEffectFailuresAreSwallowed(t *testing.T) {
	db := testDB(t)
	referrer := seedBusiness(t, db, "Referring Cafe", "100", "px-123")
	business := seedBusiness(t, db, "Jollibee Naga", "100", "")
	customer := seedCustomer(t, db, &referrer.ID)
	receipt := seedReceipt(t, db, customer.ID, business.ID)

	p := newTestProcessor(db, &fakeExtractor{result: &ocr.Result{
		MerchantName: "Jollibee Naga",
		TotalAmount:  dec(t, "450"),
		Currency:     "PHP",
	}}, &fakeStore{err: errors.New("storage down")}, &fakeTracker{err: errors.New("tracking down")})

	result, err := p.Process(context.Background(), receipt.ID)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if result.PointsEarned != 4 {
		t.Errorf("PointsEarned = %d, want 4", result.PointsEarned)
	}
	if result.Attribution != nil {
		t.Error("Attribution reported despite tracking failure, want nil")
	}

	if got := reloadReceipt(t, db, receipt.ID); got.Status != models.ReceiptStatusProcessed {
		t.Errorf("status = %s, want processed despite side-effect failures", got.Status)
	}
}
