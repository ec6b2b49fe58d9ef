package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"autoflow/internal/metrics"
	"autoflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultRecommendationTTL = 7 * 24 * time.Hour

	actionEnableTemplate = "enable_template"
	actionDismiss        = "dismiss"
)

// MatchOptions parameterise MatchRecommendations.
type MatchOptions struct {
	TenantID string
	Now      time.Time
	TTL      time.Duration
	// Existing recommendations for the tenant; an open one for a template
	// suppresses a new one.
	Existing []models.AdvisorRecommendation
}

// MatchRecommendations proposes one recommendation per template whose
// suggestion predicate holds for signals, skipping templates that already
// have an open recommendation. Results are ordered by confidence.
func MatchRecommendations(templates []models.AutomationTemplate, signals map[string]interface{}, opts MatchOptions) []models.AdvisorRecommendation {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	opts.Now = opts.Now.UTC()
	if opts.TTL <= 0 {
		opts.TTL = defaultRecommendationTTL
	}
	open := map[string]bool{}
	for i := range opts.Existing {
		r := opts.Existing[i]
		if r.TenantID == opts.TenantID && r.Open(opts.Now) {
			open[r.TemplateID] = true
		}
	}

	out := []models.AdvisorRecommendation{}
	for _, tpl := range templates {
		if !tpl.Active || open[tpl.ID] {
			continue
		}
		if !EvaluatePredicate(tpl.AISuggestionRules, signals) {
			continue
		}
		open[tpl.ID] = true

		triggering := map[string]interface{}{}
		for field := range tpl.AISuggestionRules.SuggestWhen {
			if v, ok := LookupField(signals, field); ok {
				triggering[field] = v
			}
		}
		recType := tpl.RecommendationType
		if recType == "" {
			recType = models.RecommendationAutomation
		}
		impact := tpl.ImpactLevel
		if impact == "" {
			impact = "medium"
		}
		description := tpl.AISuggestionRules.SuggestionMessage
		if description == "" {
			description = tpl.Description
		}
		expires := opts.Now.Add(opts.TTL)
		out = append(out, models.AdvisorRecommendation{
			ID:                "rec_" + uuid.NewString(),
			TenantID:          opts.TenantID,
			TemplateID:        tpl.ID,
			Type:              recType,
			Status:            models.StatusPending,
			Title:             tpl.Name,
			Description:       description,
			ImpactLevel:       impact,
			ConfidenceScore:   int(RelevanceScore(tpl, signals)*100 + 0.5),
			TriggeringSignals: triggering,
			PrimaryAction:     actionEnableTemplate,
			SecondaryAction:   actionDismiss,
			ExpiresAt:         &expires,
			CreatedAt:         opts.Now,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ConfidenceScore > out[j].ConfidenceScore })
	return out
}

// AdvisorService persists recommendations and drives their lifecycle.
type AdvisorService struct {
	db      *gorm.DB
	catalog *Catalog
	ttl     time.Duration
	now     func() time.Time
	logger  *logrus.Logger
}

func NewAdvisorService(db *gorm.DB, catalog *Catalog, ttl time.Duration, logger *logrus.Logger) *AdvisorService {
	if logger == nil {
		logger = logrus.New()
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if ttl <= 0 {
		ttl = defaultRecommendationTTL
	}
	return &AdvisorService{db: db, catalog: catalog, ttl: ttl, now: time.Now, logger: logger}
}

// WithClock replaces the wall clock used for expiry and timestamps.
func (s *AdvisorService) WithClock(now func() time.Time) *AdvisorService {
	s.now = now
	return s
}

// Match evaluates the catalog against a tenant's signals and stores any new
// recommendations. Calling it again with the same signals creates nothing.
func (s *AdvisorService) Match(ctx context.Context, tenantID string, signals map[string]interface{}) ([]models.AdvisorRecommendation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id required")
	}
	ctx, span := tracer.Start(ctx, "advisor.match")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID))

	created := []models.AdvisorRecommendation{}
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 过期但仍为 pending 的行会占用唯一索引
		if _, err := expirePending(tx.Where("tenant_id = ?", tenantID), now); err != nil {
			return err
		}
		var existing []models.AdvisorRecommendation
		if err := tx.Where("tenant_id = ? AND status = ?", tenantID, models.StatusPending).
			Find(&existing).Error; err != nil {
			return err
		}
		matched := MatchRecommendations(s.catalog.All(), signals, MatchOptions{
			TenantID: tenantID,
			Now:      now,
			TTL:      s.ttl,
			Existing: existing,
		})
		for i := range matched {
			// a concurrent Match may have inserted the same pending row
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&matched[i])
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				created = append(created, matched[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("advisor match: %w", err)
	}
	for _, r := range created {
		metrics.RecommendationsTotal.WithLabelValues(r.TemplateID).Inc()
	}
	span.SetAttributes(attribute.Int("created", len(created)))
	if len(created) > 0 {
		s.logger.WithField("tenant_id", tenantID).Infof("advisor: %d new recommendations", len(created))
	}
	return created, nil
}

// List 返回租户推荐；status 为空时不过滤
func (s *AdvisorService) List(ctx context.Context, tenantID string, status models.RecommendationStatus) ([]models.AdvisorRecommendation, error) {
	var recs []models.AdvisorRecommendation
	q := s.db.WithContext(ctx).Order("confidence_score DESC, created_at DESC")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// ExpireStale marks pending recommendations past their expiry as expired
// and returns how many changed.
func (s *AdvisorService) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	n, err := expirePending(s.db.WithContext(ctx), now)
	if err != nil {
		return 0, fmt.Errorf("expire recommendations: %w", err)
	}
	return n, nil
}

func expirePending(db *gorm.DB, now time.Time) (int64, error) {
	now = now.UTC()
	result := db.Model(&models.AdvisorRecommendation{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.StatusPending, now).
		Updates(map[string]interface{}{"status": models.StatusExpired, "resolved_at": now})
	return result.RowsAffected, result.Error
}

// Accept marks a pending recommendation accepted.
func (s *AdvisorService) Accept(ctx context.Context, id string) (*models.AdvisorRecommendation, error) {
	return s.transition(ctx, id, models.StatusPending, models.StatusAccepted)
}

// Dismiss marks a pending recommendation dismissed.
func (s *AdvisorService) Dismiss(ctx context.Context, id string) (*models.AdvisorRecommendation, error) {
	return s.transition(ctx, id, models.StatusPending, models.StatusDismissed)
}

// Complete marks an accepted recommendation completed.
func (s *AdvisorService) Complete(ctx context.Context, id string) (*models.AdvisorRecommendation, error) {
	return s.transition(ctx, id, models.StatusAccepted, models.StatusCompleted)
}

func (s *AdvisorService) transition(ctx context.Context, id string, from, to models.RecommendationStatus) (*models.AdvisorRecommendation, error) {
	var rec models.AdvisorRecommendation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return err
		}
		now := s.now().UTC()
		if from == models.StatusPending && !rec.Open(now) && rec.Status == models.StatusPending {
			return fmt.Errorf("%w: recommendation expired", ErrInvalidStatusTransition)
		}
		if rec.Status != from {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, rec.Status, to)
		}
		rec.Status = to
		rec.ResolvedAt = &now
		return tx.Model(&models.AdvisorRecommendation{}).Where("id = ?", id).
			Updates(map[string]interface{}{"status": to, "resolved_at": now}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecommendationNotFound
		}
		return nil, err
	}
	return &rec, nil
}
