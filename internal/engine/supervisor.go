package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yim1990/alpha-ai/internal/config"
	"github.com/yim1990/alpha-ai/internal/logger"
	"github.com/yim1990/alpha-ai/internal/market"
	"github.com/yim1990/alpha-ai/internal/model"
	"github.com/yim1990/alpha-ai/internal/risk"
	"github.com/yim1990/alpha-ai/internal/rule"
	"github.com/yim1990/alpha-ai/internal/store"
	"github.com/yim1990/alpha-ai/internal/token"
	"github.com/yim1990/alpha-ai/internal/vault"
	"github.com/yim1990/alpha-ai/pkg/rest"
	"github.com/yim1990/alpha-ai/pkg/ws"
)

// Supervisor keeps one running worker per enabled account. It polls the
// account set, starts workers for newly enabled accounts, and cancels the
// worker of any account that goes away; cancellation closes the account's
// feed and revokes its token.
type Supervisor struct {
	store *store.Store
	vault *vault.Vault
	cfg   config.Config
	log   *logrus.Logger

	mu      sync.Mutex
	running map[uuid.UUID]*runningAccount
}

type runningAccount struct {
	cancel context.CancelFunc
	tokens TokenProvider
	done   chan struct{}
}

// NewSupervisor creates a supervisor over the given store and vault.
func NewSupervisor(st *store.Store, v *vault.Vault, cfg config.Config, log *logrus.Logger) *Supervisor {
	return &Supervisor{
		store:   st,
		vault:   v,
		cfg:     cfg,
		log:     log,
		running: map[uuid.UUID]*runningAccount{},
	}
}

// Run reconciles workers against the enabled account set until ctx ends,
// then shuts every worker down and waits for them.
func (s *Supervisor) Run(ctx context.Context) error {
	log := logger.WithComponent(s.log, "supervisor")
	log.Info("supervisor started")

	ticker := time.NewTicker(s.cfg.Engine.CycleInterval)
	defer ticker.Stop()

	s.sync(ctx, log)
	for {
		select {
		case <-ctx.Done():
			s.shutdown(log)
			return ctx.Err()
		case <-ticker.C:
			s.sync(ctx, log)
		}
	}
}

// sync starts workers for newly enabled accounts and stops workers whose
// accounts were disabled or marked unhealthy.
func (s *Supervisor) sync(ctx context.Context, log *logrus.Entry) {
	accounts, err := s.store.ListEnabledAccounts()
	if err != nil {
		log.WithError(err).Error("failed to list accounts")
		return
	}

	want := map[uuid.UUID]model.Account{}
	for _, a := range accounts {
		if a.Active() {
			want[a.ID] = a
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ra := range s.running {
		if _, keep := want[id]; keep {
			continue
		}
		log.WithField("account", id).Info("account disabled, stopping worker")
		ra.cancel()
		go s.finish(id, ra)
		delete(s.running, id)
	}

	for id, account := range want {
		if _, ok := s.running[id]; ok {
			continue
		}
		ra, err := s.launch(ctx, account)
		if err != nil {
			log.WithError(err).WithField("account", id).Error("failed to start worker")
			continue
		}
		s.running[id] = ra
	}
}

// launch builds the full per-account stack and starts its goroutines.
func (s *Supervisor) launch(parent context.Context, account model.Account) (*runningAccount, error) {
	cred, err := s.store.GetCredential(account.ID)
	if err != nil {
		return nil, fmt.Errorf("engine: load credential: %w", err)
	}
	appKey, err := s.vault.Decrypt(cred.AppKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("engine: decrypt app key: %w", err)
	}
	appSecret, err := s.vault.Decrypt(cred.AppSecretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("engine: decrypt app secret: %w", err)
	}
	accountNo, err := s.vault.Decrypt(cred.AccountNoEncrypted)
	if err != nil {
		return nil, fmt.Errorf("engine: decrypt account number: %w", err)
	}

	log := logger.WithComponent(s.log, "worker").WithField("account", account.Nickname)

	restOpts := []rest.Option{
		rest.WithRateLimit(rate.Limit(s.cfg.Engine.RequestsPerSecond), s.cfg.Engine.Burst),
		rest.WithAttemptLogger(attemptRecorder(s.store, account.ID)),
	}
	if cred.Sandbox {
		restOpts = append(restOpts, rest.WithSandbox())
	}
	client := rest.New(appKey, appSecret, accountNo, restOpts...)

	tokens := token.NewManager(account.ID, client, s.store, s.vault, log)
	client.SetTokenSource(tokens)

	wsOpts := []ws.Option{}
	if cred.Sandbox {
		wsOpts = append(wsOpts, ws.WithSandbox())
	}
	stream := ws.New(client.IssueApprovalKey, wsOpts...)

	cache := market.NewCache()
	feed := NewFeed(stream, cache, client, log, s.cfg.Engine.QuotePollInterval)
	gateway := NewGateway(s.store, client, log, s.cfg.Engine.StaleOrderAge)
	guard := risk.NewGuard(risk.Limits{
		DailyNotionalCapUSD:    s.cfg.Engine.DailyNotionalCapUSD,
		MaxConsecutiveFailures: s.cfg.Engine.MaxConsecutiveFailures,
		FailureCooldown:        s.cfg.Engine.FailureCooldown,
		AllowPreMarket:         s.cfg.Engine.AllowPreMarket,
		AllowAfterHours:        s.cfg.Engine.AllowAfterHours,
	})
	calendar := market.NewCalendar(s.cfg.Engine.Holidays)
	worker := NewWorker(account, s.store, tokens, gateway, rule.NewEngine(), guard, calendar, cache, feed, s.cfg.Engine, log)

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			feed.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
		wg.Wait()
	}()

	return &runningAccount{cancel: cancel, tokens: tokens, done: done}, nil
}

// finish waits for a cancelled worker to drain, then revokes its token.
func (s *Supervisor) finish(id uuid.UUID, ra *runningAccount) {
	<-ra.done
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ra.tokens.Revoke(ctx); err != nil {
		logger.WithComponent(s.log, "supervisor").WithError(err).WithField("account", id).Warn("token revoke failed")
	}
}

// shutdown cancels every worker and waits for all of them.
func (s *Supervisor) shutdown(log *logrus.Entry) {
	s.mu.Lock()
	running := s.running
	s.running = map[uuid.UUID]*runningAccount{}
	s.mu.Unlock()

	for id, ra := range running {
		ra.cancel()
		s.finish(id, ra)
	}
	log.Info("supervisor stopped")
}

// attemptRecorder writes every transport attempt, retries included, to the
// account's execution log with its latency and attempt index.
func attemptRecorder(st *store.Store, accountID uuid.UUID) rest.AttemptFunc {
	return func(a rest.Attempt) {
		level := model.LevelInfo
		message := fmt.Sprintf("%s %s attempt %d: %d in %s",
			a.Method, a.Path, a.Index, a.StatusCode, a.Latency.Round(time.Millisecond))
		if a.Err != nil {
			level = model.LevelWarning
			message = fmt.Sprintf("%s %s attempt %d failed after %s: %s",
				a.Method, a.Path, a.Index, a.Latency.Round(time.Millisecond), a.Err)
		}
		ctx, _ := json.Marshal(map[string]any{
			"method":     a.Method,
			"path":       a.Path,
			"tr_id":      a.TrID,
			"attempt":    a.Index,
			"status":     a.StatusCode,
			"latency_ms": a.Latency.Milliseconds(),
		})
		_ = st.AppendLog(&model.ExecutionLog{
			AccountID: accountID,
			Level:     level,
			Category:  "transport",
			Message:   message,
			Context:   string(ctx),
			ErrorCode: rest.BrokerCode(a.Err),
		})
	}
}
