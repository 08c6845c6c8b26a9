package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/chrisraro/Giya-sub000/internal/service"
	"github.com/chrisraro/Giya-sub000/pkg/logger"
)

type ReconcileScheduler struct {
	cron       *cron.Cron
	reconciler *service.Reconciler
	spec       string
}

func NewReconcileScheduler(reconciler *service.Reconciler, cronExpr string) *ReconcileScheduler {
	if cronExpr == "" {
		cronExpr = "0 */10 * * * *"
	}
	return &ReconcileScheduler{
		cron:       cron.New(cron.WithSeconds()),
		reconciler: reconciler,
		spec:       cronExpr,
	}
}

func (s *ReconcileScheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, s.run)
	if err != nil {
		return err
	}

	s.cron.Start()
	logger.Info("Reconciliation scheduler started")
	return nil
}

func (s *ReconcileScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Reconciliation scheduler stopped")
}

func (s *ReconcileScheduler) run() {
	s.reconciler.Run(context.Background())
}
