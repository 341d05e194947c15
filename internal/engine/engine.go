package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/cache"
	"supplyrouter/internal/config"
	"supplyrouter/internal/events"
	"supplyrouter/internal/logger"
	"supplyrouter/internal/metrics"
	"supplyrouter/internal/notify"
	"supplyrouter/internal/pending"
	"supplyrouter/internal/repo"
)

// Engine routes orders to suppliers and drives their lifecycle. It performs no
// authorization; callers resolve and check the acting identity.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Registry *cache.Registry
	Applier  TransitionApplier
	Hooks    notify.Hook
	Pending  pending.Store
	Config   *config.Config
	Log      logger.Logger
	IDs      repo.IDGenerator
	Now      func() time.Time
}

// New builds an Engine over conn without Redis. Notifications go to the log
// until Hooks is replaced.
func New(conn *sql.DB, driver string, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	log := logger.NewNop()
	r := repo.Repo{DB: conn, Driver: driver}
	e := Engine{
		DB:       conn,
		Repo:     r,
		Events:   events.Writer{Repo: r},
		Registry: cache.New(nil, r, cfg.SupplierTTL(), cfg.OrderTTL(), log),
		Hooks:    notify.NewDispatcher(notify.LogNotifier{Log: log}, cfg.NotifyTimeout(), log),
		Pending:  pending.NewMemoryStore(cfg.PendingTTL()),
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
	}
	if cfg.Features.GuardedTransitions {
		e.Applier = GuardedApplier{Repo: r}
	} else {
		e.Applier = BlindApplier{Repo: r}
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) events() events.Writer {
	w := e.Events
	w.Repo = e.Repo
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) log() logger.Logger {
	if e.Log == nil {
		return logger.NewNop()
	}
	return e.Log
}

func (e Engine) registry() *cache.Registry {
	if e.Registry == nil {
		return cache.New(nil, e.Repo, 0, 0, e.Log)
	}
	return e.Registry
}

func (e Engine) applier() TransitionApplier {
	if e.Applier == nil {
		return BlindApplier{Repo: e.Repo}
	}
	return e.Applier
}

func (e Engine) features() config.Features {
	if e.Config == nil {
		return config.Default().Features
	}
	return e.Config.Features
}

// afterCommit hands notifications to the post-commit hooks.
func (e Engine) afterCommit(ctx context.Context, msgs ...notify.Message) {
	if e.Hooks == nil || len(msgs) == 0 {
		return
	}
	e.Hooks.AfterCommit(ctx, msgs)
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	return e.Repo.BeginTx(ctx)
}

func observe(op string, start time.Time) {
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateOptions runs struct validation and reports failures as ValidationFailed.
func validateOptions(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", toSnake(fe.Field()), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s is %s", toSnake(fe.Field()), fe.Tag()))
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 && !unicode.IsUpper(rune(s[i-1])) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func int64Ptr(v int64) *int64 {
	return &v
}
