package sqlstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
)

const offerColumns = `id, request_id, helper_id, requester_id, message, status, report_count, version, created_at, updated_at`

type offerRepository struct {
	q sqlx.ExtContext
}

func (r *offerRepository) Create(ctx context.Context, o *domain.HelpOffer) error {
	logger.EnterMethod("offerRepository.Create", "requestID", o.RequestID, "helperID", o.HelperID)
	if o.Version == 0 {
		o.Version = 1
	}
	query := r.q.Rebind(`INSERT INTO help_offers (request_id, helper_id, requester_id, message, status,
		report_count, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	logger.DatabaseCall("INSERT", "help_offers", "requestID", o.RequestID, "helperID", o.HelperID)
	err := r.q.QueryRowxContext(ctx, query,
		o.RequestID, o.HelperID, o.RequesterID, o.Message, o.Status, o.ReportCount, o.Version, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	logger.DatabaseResult("INSERT", 1, err, "offerID", o.ID)
	if err != nil {
		logger.ExitMethodWithError("offerRepository.Create", err)
		return translate(err, "help offer")
	}
	logger.ExitMethod("offerRepository.Create", "offerID", o.ID)
	return nil
}

func (r *offerRepository) GetByID(ctx context.Context, id int64) (*domain.HelpOffer, error) {
	var o domain.HelpOffer
	if err := sqlx.GetContext(ctx, r.q, &o, r.q.Rebind(`SELECT `+offerColumns+` FROM help_offers WHERE id = ?`), id); err != nil {
		return nil, translate(err, "help offer")
	}
	return &o, nil
}

func (r *offerRepository) GetByRequestAndHelper(ctx context.Context, requestID, helperID int64) (*domain.HelpOffer, error) {
	var o domain.HelpOffer
	query := r.q.Rebind(`SELECT ` + offerColumns + ` FROM help_offers WHERE request_id = ? AND helper_id = ?`)
	if err := sqlx.GetContext(ctx, r.q, &o, query, requestID, helperID); err != nil {
		return nil, translate(err, "help offer")
	}
	return &o, nil
}

func (r *offerRepository) Update(ctx context.Context, o *domain.HelpOffer, expectedVersion int64) error {
	query := r.q.Rebind(`UPDATE help_offers SET message = ?, status = ?, report_count = ?, updated_at = ?,
		version = version + 1 WHERE id = ? AND version = ?`)
	logger.DatabaseCall("UPDATE", "help_offers", "offerID", o.ID, "status", o.Status, "expectedVersion", expectedVersion)
	res, err := r.q.ExecContext(ctx, query, o.Message, o.Status, o.ReportCount, o.UpdatedAt, o.ID, expectedVersion)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "offerID", o.ID)
		return translate(err, "help offer")
	}
	if err := expectOne(res, "help offer", o.ID); err != nil {
		return err
	}
	o.Version = expectedVersion + 1
	return nil
}

func (r *offerRepository) ListByRequest(ctx context.Context, requestID int64) ([]domain.HelpOffer, error) {
	var out []domain.HelpOffer
	query := r.q.Rebind(`SELECT ` + offerColumns + ` FROM help_offers WHERE request_id = ? ORDER BY created_at, id`)
	if err := sqlx.SelectContext(ctx, r.q, &out, query, requestID); err != nil {
		return nil, translate(err, "help offers")
	}
	return out, nil
}

func (r *offerRepository) ListByHelper(ctx context.Context, helperID int64) ([]domain.HelpOffer, error) {
	var out []domain.HelpOffer
	query := r.q.Rebind(`SELECT ` + offerColumns + ` FROM help_offers WHERE helper_id = ? ORDER BY created_at DESC, id DESC`)
	if err := sqlx.SelectContext(ctx, r.q, &out, query, helperID); err != nil {
		return nil, translate(err, "help offers")
	}
	return out, nil
}

func (r *offerRepository) CountByRequestAndStatus(ctx context.Context, requestID int64, statuses ...domain.OfferStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM help_offers WHERE request_id = ? AND status IN (?)`, requestID, names)
	if err != nil {
		return 0, err
	}
	var n int
	if err := sqlx.GetContext(ctx, r.q, &n, r.q.Rebind(query), args...); err != nil {
		return 0, translate(err, "help offers")
	}
	return n, nil
}

// AddReporter records reporterID in the offer's reporter set. It reports
// false when the reporter was already present.
func (r *offerRepository) AddReporter(ctx context.Context, offerID, reporterID int64) (bool, error) {
	query := r.q.Rebind(`INSERT INTO offer_reports (offer_id, reporter_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (offer_id, reporter_id) DO NOTHING`)
	logger.DatabaseCall("INSERT", "offer_reports", "offerID", offerID, "reporterID", reporterID)
	res, err := r.q.ExecContext(ctx, query, offerID, reporterID, time.Now().UTC())
	if err != nil {
		logger.DatabaseResult("INSERT", 0, err, "offerID", offerID)
		return false, translate(err, "offer report")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	logger.DatabaseResult("INSERT", n, nil, "offerID", offerID)
	return n == 1, nil
}

func (r *offerRepository) CountReporters(ctx context.Context, offerID int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.q, &n, r.q.Rebind(`SELECT COUNT(*) FROM offer_reports WHERE offer_id = ?`), offerID); err != nil {
		return 0, translate(err, "offer reports")
	}
	return n, nil
}

func (r *offerRepository) ListReporters(ctx context.Context, offerID int64) ([]int64, error) {
	var out []int64
	query := r.q.Rebind(`SELECT reporter_id FROM offer_reports WHERE offer_id = ? ORDER BY reporter_id`)
	if err := sqlx.SelectContext(ctx, r.q, &out, query, offerID); err != nil {
		return nil, translate(err, "offer reports")
	}
	return out, nil
}
