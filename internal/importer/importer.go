// Package importer drives one bank-statement import batch end to end:
// dedup, amount normalization, reference matching, reconciliation and
// job lifecycle, with retries on transient locking failures.
package importer

import (
	"context"
	"fmt"
	"time"

	"banktransfer-reconciliation-service/internal/engine"
	"banktransfer-reconciliation-service/internal/matcher"
	"banktransfer-reconciliation-service/internal/models"
	"banktransfer-reconciliation-service/internal/orders"
	"banktransfer-reconciliation-service/internal/resolver"
	"banktransfer-reconciliation-service/internal/store"
	apperrors "banktransfer-reconciliation-service/pkg/errors"
	"banktransfer-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Config holds the orchestrator settings
type Config struct {
	// MaxRetries bounds how often a job is retried after a lock timeout
	MaxRetries int `json:"max_retries"`
	// RetryDelay is the fixed backoff between retries
	RetryDelay time.Duration `json:"retry_delay"`
	// LockTimeout bounds the wait for the per-owner serialization lock
	LockTimeout time.Duration `json:"lock_timeout"`
	// OrderCodeEntropy is the standard order-code length for truncation
	OrderCodeEntropy int `json:"order_code_entropy"`
	// Region influences day-first vs month-first date parsing
	Region string `json:"region,omitempty"`
}

// DefaultConfig returns the default orchestrator settings
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       5,
		RetryDelay:       time.Second,
		LockTimeout:      30 * time.Second,
		OrderCodeEntropy: resolver.DefaultOrderCodeEntropy,
	}
}

// Validate validates the orchestrator settings
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}
	if c.OrderCodeEntropy <= 0 {
		return fmt.Errorf("order code entropy must be positive")
	}
	return nil
}

// Importer orchestrates import jobs
type Importer struct {
	store  store.Store
	orders *orders.Service
	engine *engine.Engine
	config *Config
	log    logger.Logger
}

// New creates an importer
func New(st store.Store, service *orders.Service, eng *engine.Engine, config *Config, log logger.Logger) (*Importer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "importer", config, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Importer{
		store:  st,
		orders: service,
		engine: eng,
		config: config,
		log:    log.WithComponent("importer"),
	}, nil
}

// Run processes one import batch for a previously created job.
//
// Lock timeouts restart the whole batch a bounded number of times with
// a fixed backoff; exhaustion leaves the job in ERROR for operator
// action. Any other failure marks the job ERROR and is returned to the
// caller for monitoring visibility.
func (im *Importer) Run(ctx context.Context, jobID string, rows []models.ImportRow) error {
	job, err := im.store.GetJob(jobID)
	if err != nil {
		return apperrors.StorageError(apperrors.CodeNotFound, "job lookup", err).
			WithContext("job_id", jobID)
	}

	log := im.log.WithFields(logger.Fields{"job_id": job.ID, "owner": job.Scope.Key()})
	log.WithField("rows", len(rows)).Info("Starting bank import job")

	job.SetState(models.JobStateRunning)
	if err := im.store.SaveJob(job); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = im.runBatch(ctx, job, rows)
		if err == nil {
			job.SetState(models.JobStateCompleted)
			if saveErr := im.store.SaveJob(job); saveErr != nil {
				return saveErr
			}
			log.Info("Bank import job completed")
			return nil
		}

		if apperrors.IsLockTimeout(err) {
			if attempt < im.config.MaxRetries {
				log.WithError(err).WithField("attempt", attempt+1).
					Warn("Lock timeout, retrying import job")
				if waitErr := sleepContext(ctx, im.config.RetryDelay); waitErr != nil {
					err = waitErr
				} else {
					continue
				}
			} else {
				log.WithError(err).Error("Maximum number of retries exceeded for import job")
				job.SetState(models.JobStateError)
				if saveErr := im.store.SaveJob(job); saveErr != nil {
					return saveErr
				}
				return nil
			}
		}

		job.SetState(models.JobStateError)
		if saveErr := im.store.SaveJob(job); saveErr != nil {
			log.WithError(saveErr).Error("Failed to persist job error state")
		}
		return apperrors.WrapIfNeeded(err, apperrors.CategoryReconciliation,
			apperrors.CodeProcessingError, "import job failed")
	}
}

// runBatch executes one attempt of the whole batch under the owner lock
func (im *Importer) runBatch(ctx context.Context, job *models.BankImportJob, rows []models.ImportRow) error {
	return im.store.WithOwnerLock(ctx, job.Scope, im.config.LockTimeout, func() error {
		// Delete leftover transactions from a failed run so they can
		// be reimported.
		deleted, err := im.store.DeleteUnchecked(job.Scope)
		if err != nil {
			return err
		}
		if deleted > 0 {
			im.log.WithField("deleted", deleted).Info("Purged leftover unchecked transactions")
		}

		transactions, err := im.ingestRows(job, rows)
		if err != nil {
			return err
		}

		pattern, err := im.buildPattern(job.Scope)
		if err != nil {
			return err
		}

		tracker := logger.NewProgressTracker(im.log, "reconcile", int64(len(transactions)), 0)
		for _, trans := range transactions {
			if err := im.reconcileTransaction(ctx, pattern, trans); err != nil {
				return err
			}
			tracker.Increment()
		}
		tracker.Done()
		return nil
	})
}

func (im *Importer) reconcileTransaction(ctx context.Context, pattern *matcher.ReferencePattern, trans *models.BankTransaction) error {
	var matches []matcher.Match
	if pattern != nil {
		matches = pattern.Extract(trans.Reference)
	}

	if len(matches) == 0 {
		trans.State = models.TransactionStateNoMatch
		return im.store.SaveTransaction(trans)
	}
	return im.engine.Process(ctx, trans, matches)
}

// ingestRows runs the dedup filter and amount normalizer over the raw
// rows and persists the survivors as unchecked transactions.
func (im *Importer) ingestRows(job *models.BankImportJob, rows []models.ImportRow) ([]*models.BankTransaction, error) {
	knownChecksums, err := im.store.KnownChecksums(job.Scope)
	if err != nil {
		return nil, err
	}
	knownExternal, err := im.store.KnownExternalKeys(job.Scope)
	if err != nil {
		return nil, err
	}

	currency := job.Currency
	if job.Scope.IsEvent() {
		if c := im.orders.EventCurrency(job.Scope.Event); c != "" {
			currency = c
		}
	}

	var transactions []*models.BankTransaction
	for _, row := range rows {
		amount, err := models.ParseAmount(row.Amount)
		if err != nil {
			// One bad cell must not abort the batch; the row ends up
			// as a visible no-match instead.
			im.log.WithError(err).WithField("amount", row.Amount).
				Error("Could not parse amount of transaction")
			amount = decimal.Zero
		}

		trans := models.NewBankTransaction(job.Scope, job.ID, row, amount)
		trans.Currency = currency
		trans.DateParsed = models.ParseDate(row.Date, im.config.Region)

		if _, seen := knownChecksums[trans.Checksum]; seen {
			continue
		}
		if trans.ExternalID != "" {
			if _, seen := knownExternal[trans.ExternalKey()]; seen {
				continue
			}
			knownExternal[trans.ExternalKey()] = struct{}{}
		}
		knownChecksums[trans.Checksum] = struct{}{}

		if err := im.store.SaveTransaction(trans); err != nil {
			return nil, err
		}
		transactions = append(transactions, trans)
	}

	im.log.WithFields(logger.Fields{
		"rows":     len(rows),
		"ingested": len(transactions),
	}).Info("Ingested unknown transactions")
	return transactions, nil
}

// buildPattern computes the owner's prefix set and code length bounds
// and compiles the reference pattern. Returns nil when the scope has no
// prefixes at all, in which case every transaction is a no-match.
func (im *Importer) buildPattern(scope models.OwnerScope) (*matcher.ReferencePattern, error) {
	prefixes := im.orders.EventSlugs(scope)
	prefixes = append(prefixes, im.orders.InvoicePrefixes(scope)...)
	if len(prefixes) == 0 {
		return nil, nil
	}

	codeMin, codeMax := im.orders.OrderCodeLengthBounds(scope)
	invMin, invMax := im.orders.InvoiceNumberLengthBounds(scope)

	if codeMin == 0 {
		codeMin = 1
	}
	if invMin == 0 {
		invMin = 1
	}
	if codeMax == 0 {
		codeMax = 5
	}
	if invMax == 0 {
		invMax = 5
	}

	minLen := codeMin
	if invMin < minLen {
		minLen = invMin
	}
	maxLen := codeMax
	if invMax > maxLen {
		maxLen = invMax
	}

	return matcher.BuildPattern(prefixes, minLen, maxLen)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
