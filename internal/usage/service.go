package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	pkgerrors "github.com/mediaforge-ai/mediaforge-backend/pkg/errors"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
)

const (
	defaultSummaryLimit = 100
	maxSummaryLimit     = 1000
)

// SummaryQuery bounds an admin usage or billing report.
type SummaryQuery struct {
	From      time.Time
	To        time.Time
	ProfileID string
	Limit     int
}

// ProfileUsage aggregates generation activity for one profile.
type ProfileUsage struct {
	ProfileID   string `bigquery:"profile_id" json:"profile_id"`
	Submitted   int64  `bigquery:"submitted" json:"submitted"`
	Settled     int64  `bigquery:"settled" json:"settled"`
	Failed      int64  `bigquery:"failed" json:"failed"`
	Expired     int64  `bigquery:"expired" json:"expired"`
	DemoRuns    int64  `bigquery:"demo_runs" json:"demo_runs"`
	TotalBilled string `bigquery:"total_billed" json:"total_billed"`
}

// BillingSummary aggregates confirmed debits and reversals for one profile.
type BillingSummary struct {
	ProfileID     string `bigquery:"profile_id" json:"profile_id"`
	DebitCount    int64  `bigquery:"debit_count" json:"debit_count"`
	CreditCount   int64  `bigquery:"credit_count" json:"credit_count"`
	TotalDebited  string `bigquery:"total_debited" json:"total_debited"`
	TotalCredited string `bigquery:"total_credited" json:"total_credited"`
	NetBilled     string `bigquery:"net_billed" json:"net_billed"`
}

// Service answers the admin usage and billing reports.
type Service interface {
	UsageSummary(ctx context.Context, query SummaryQuery) ([]ProfileUsage, error)
	BillingSummary(ctx context.Context, query SummaryQuery) ([]BillingSummary, error)
}

type queryClient interface {
	Query(ctx context.Context, sql string, params []cbigquery.QueryParameter) (*cbigquery.RowIterator, error)
}

type service struct {
	client queryClient
	cfg    config.BigQueryConfig
	logg   *logger.Logger
}

// NewService builds the usage query service.
func NewService(client queryClient, cfg config.BigQueryConfig, logg *logger.Logger) (Service, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if strings.TrimSpace(cfg.Dataset) == "" {
		return nil, errors.New("bigquery dataset required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &service{client: client, cfg: cfg, logg: logg}, nil
}

func (s *service) UsageSummary(ctx context.Context, query SummaryQuery) ([]ProfileUsage, error) {
	normalized, err := normalizeSummaryQuery(query)
	if err != nil {
		return nil, err
	}

	sql, params := buildUsageSQL(s.cfg, normalized)
	it, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "usage summary query failed")
	}

	rows := []ProfileUsage{}
	for {
		var row ProfileUsage
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading usage summary rows")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *service) BillingSummary(ctx context.Context, query SummaryQuery) ([]BillingSummary, error) {
	normalized, err := normalizeSummaryQuery(query)
	if err != nil {
		return nil, err
	}

	sql, params := buildBillingSQL(s.cfg, normalized)
	it, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "billing summary query failed")
	}

	rows := []BillingSummary{}
	for {
		var row BillingSummary
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading billing summary rows")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func normalizeSummaryQuery(query SummaryQuery) (SummaryQuery, error) {
	if query.From.IsZero() || query.To.IsZero() {
		return SummaryQuery{}, pkgerrors.New(pkgerrors.CodeValidation, "from and to are required")
	}
	if !query.From.Before(query.To) {
		return SummaryQuery{}, pkgerrors.New(pkgerrors.CodeValidation, "from must precede to")
	}
	if query.Limit <= 0 {
		query.Limit = defaultSummaryLimit
	}
	if query.Limit > maxSummaryLimit {
		query.Limit = maxSummaryLimit
	}
	query.ProfileID = strings.TrimSpace(query.ProfileID)
	return query, nil
}

func buildUsageSQL(cfg config.BigQueryConfig, query SummaryQuery) (string, []cbigquery.QueryParameter) {
	var sb strings.Builder
	sb.WriteString("SELECT profile_id,\n")
	sb.WriteString("  COUNTIF(event_type = 'generation_submitted') AS submitted,\n")
	sb.WriteString("  COUNTIF(event_type = 'generation_settled') AS settled,\n")
	sb.WriteString("  COUNTIF(event_type = 'generation_failed') AS failed,\n")
	sb.WriteString("  COUNTIF(event_type = 'generation_expired') AS expired,\n")
	sb.WriteString("  COUNTIF(event_type = 'generation_settled' AND is_demo) AS demo_runs,\n")
	sb.WriteString("  CAST(COALESCE(SUM(IF(event_type = 'generation_settled' AND NOT is_demo, CAST(price AS NUMERIC), NUMERIC '0')), NUMERIC '0') AS STRING) AS total_billed\n")
	sb.WriteString(fmt.Sprintf("FROM %s\n", tableRef(cfg.Dataset, cfg.GenerationEventsTable)))
	sb.WriteString("WHERE occurred_at >= @from AND occurred_at < @to AND profile_id IS NOT NULL\n")

	params := []cbigquery.QueryParameter{
		{Name: "from", Value: query.From.UTC()},
		{Name: "to", Value: query.To.UTC()},
	}
	if query.ProfileID != "" {
		sb.WriteString("  AND profile_id = @profile_id\n")
		params = append(params, cbigquery.QueryParameter{Name: "profile_id", Value: query.ProfileID})
	}

	sb.WriteString("GROUP BY profile_id\n")
	sb.WriteString("ORDER BY submitted DESC\n")
	sb.WriteString("LIMIT @limit")
	params = append(params, cbigquery.QueryParameter{Name: "limit", Value: int64(query.Limit)})
	return sb.String(), params
}

func buildBillingSQL(cfg config.BigQueryConfig, query SummaryQuery) (string, []cbigquery.QueryParameter) {
	var sb strings.Builder
	sb.WriteString("SELECT profile_id,\n")
	sb.WriteString("  COUNTIF(direction = 'debit') AS debit_count,\n")
	sb.WriteString("  COUNTIF(direction = 'credit') AS credit_count,\n")
	sb.WriteString("  CAST(COALESCE(SUM(IF(direction = 'debit', CAST(amount AS NUMERIC), NUMERIC '0')), NUMERIC '0') AS STRING) AS total_debited,\n")
	sb.WriteString("  CAST(COALESCE(SUM(IF(direction = 'credit', CAST(amount AS NUMERIC), NUMERIC '0')), NUMERIC '0') AS STRING) AS total_credited,\n")
	sb.WriteString("  CAST(COALESCE(SUM(IF(direction = 'debit', CAST(amount AS NUMERIC), -CAST(amount AS NUMERIC))), NUMERIC '0') AS STRING) AS net_billed\n")
	sb.WriteString(fmt.Sprintf("FROM %s\n", tableRef(cfg.Dataset, cfg.BillingEventsTable)))
	sb.WriteString("WHERE occurred_at >= @from AND occurred_at < @to AND profile_id IS NOT NULL AND amount IS NOT NULL\n")

	params := []cbigquery.QueryParameter{
		{Name: "from", Value: query.From.UTC()},
		{Name: "to", Value: query.To.UTC()},
	}
	if query.ProfileID != "" {
		sb.WriteString("  AND profile_id = @profile_id\n")
		params = append(params, cbigquery.QueryParameter{Name: "profile_id", Value: query.ProfileID})
	}

	sb.WriteString("GROUP BY profile_id\n")
	sb.WriteString("ORDER BY total_debited DESC\n")
	sb.WriteString("LIMIT @limit")
	params = append(params, cbigquery.QueryParameter{Name: "limit", Value: int64(query.Limit)})
	return sb.String(), params
}

func tableRef(dataset, table string) string {
	return fmt.Sprintf("`%s.%s`", strings.TrimSpace(dataset), strings.TrimSpace(table))
}
