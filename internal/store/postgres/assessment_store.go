package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// AssessmentStore implements domain.AssessmentStore using PostgreSQL. Every
// evaluator decision, approval or rejection, is kept for audit.
type AssessmentStore struct {
	pool *pgxpool.Pool
}

// NewAssessmentStore creates a new AssessmentStore.
func NewAssessmentStore(pool *pgxpool.Pool) *AssessmentStore {
	return &AssessmentStore{pool: pool}
}

// Insert persists one assessment. The opportunity id is the primary key;
// an assessment is produced exactly once per opportunity.
func (s *AssessmentStore) Insert(ctx context.Context, a domain.RiskAssessment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO risk_assessments (opportunity_id, seq, asset, route_key, gross_spread_usd, gas_cost_usd, slippage_usd, bridge_fee_usd, risk_discount_usd, net_profit_usd, trade_size_usd, extraction_risk, source_gas_band, target_gas_band, verdict, reason, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (opportunity_id) DO NOTHING`,
		a.OpportunityID, a.Seq, a.Asset, a.RouteKey,
		a.GrossSpreadUSD, a.GasCostUSD, a.SlippageUSD, a.BridgeFeeUSD, a.RiskDiscountUSD, a.NetProfitUSD,
		a.TradeSizeUSD, a.ExtractionRisk, string(a.SourceGasBand), string(a.TargetGasBand),
		string(a.Verdict), string(a.Reason), a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert risk_assessment: %w", err)
	}
	return nil
}

// ListRecent returns the most recent assessments, newest first.
func (s *AssessmentStore) ListRecent(ctx context.Context, limit int) ([]domain.RiskAssessment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT opportunity_id, seq, asset, route_key, gross_spread_usd, gas_cost_usd, slippage_usd, bridge_fee_usd, risk_discount_usd, net_profit_usd, trade_size_usd, extraction_risk, source_gas_band, target_gas_band, verdict, reason, evaluated_at
		FROM risk_assessments ORDER BY evaluated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list risk_assessments: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskAssessment
	for rows.Next() {
		var a domain.RiskAssessment
		var srcBand, dstBand, verdict, reason string
		if err := rows.Scan(&a.OpportunityID, &a.Seq, &a.Asset, &a.RouteKey,
			&a.GrossSpreadUSD, &a.GasCostUSD, &a.SlippageUSD, &a.BridgeFeeUSD, &a.RiskDiscountUSD, &a.NetProfitUSD,
			&a.TradeSizeUSD, &a.ExtractionRisk, &srcBand, &dstBand, &verdict, &reason, &a.EvaluatedAt,
		); err != nil {
			return nil, err
		}
		a.SourceGasBand = domain.GasBand(srcBand)
		a.TargetGasBand = domain.GasBand(dstBand)
		a.Verdict = domain.Verdict(verdict)
		a.Reason = domain.RejectReason(reason)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.AssessmentStore = (*AssessmentStore)(nil)
