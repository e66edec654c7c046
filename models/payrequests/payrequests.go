package payrequests

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnaccounts/apierr"
	"gitlab.com/arcanecrypto/lnaccounts/build"
	"gitlab.com/arcanecrypto/lnaccounts/db"
)

var log = build.AddSubLogger("PAYR")

// PayRequest is a database table. It is an internal request for the
// receiver to pay the creator from their ledger balance, no invoice or
// network settlement is involved.
type PayRequest struct {
	ID         int   `db:"id"`
	CreatorID  int   `db:"creator_id"`
	ReceiverID int   `db:"receiver_id"`
	AmountSat  int64 `db:"amount_sat"`

	Description *string `db:"description"`
	// Meta is an opaque blob the creator can attach, stored as-is
	Meta types.JSONText `db:"meta"`

	// Paid transitions false to true exactly once
	Paid      bool      `db:"paid"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

const (
	returningFromPayRequestsTable = "RETURNING id, creator_id, receiver_id, amount_sat, description, meta, paid, created_at, updated_at"
	selectFromPayRequestsTable    = "SELECT id, creator_id, receiver_id, amount_sat, description, meta, paid, created_at, updated_at"
)

// NewPayRequestArgs is the data required to create a pay request
type NewPayRequestArgs struct {
	CreatorID   int
	ReceiverID  int
	AmountSat   int64
	Description *string
	Meta        types.JSONText
}

// New creates a single pay request. No funds move until settlement.
func New(i db.Inserter, args NewPayRequestArgs) (PayRequest, error) {
	if args.AmountSat <= 0 {
		return PayRequest{}, apierr.ErrBadAmount
	}

	createQuery := `INSERT INTO pay_requests
		(creator_id, receiver_id, amount_sat, description, meta)
		VALUES (:creator_id, :receiver_id, :amount_sat, :description, :meta) ` +
		returningFromPayRequestsTable

	rows, err := i.NamedQuery(createQuery, PayRequest{
		CreatorID:   args.CreatorID,
		ReceiverID:  args.ReceiverID,
		AmountSat:   args.AmountSat,
		Description: args.Description,
		Meta:        args.Meta,
	})
	if err != nil {
		return PayRequest{}, fmt.Errorf("could not insert pay request: %w", err)
	}

	request, err := scanPayRequest(rows)
	if err != nil {
		return PayRequest{}, fmt.Errorf("could not scan pay request: %w", err)
	}
	return request, nil
}

// NewBatch creates one pay request per receiver in a single database
// transaction, all-or-nothing
func NewBatch(d *db.DB, creatorID int, receiverIDs []int, amountSat int64,
	description *string, meta types.JSONText) ([]PayRequest, error) {
	if amountSat <= 0 {
		return nil, apierr.ErrBadAmount
	}
	if len(receiverIDs) == 0 {
		return nil, errors.New("no receivers given")
	}

	tx, err := d.Beginx()
	if err != nil {
		return nil, errors.Wrap(err, "could not begin transaction")
	}

	requests := make([]PayRequest, 0, len(receiverIDs))
	for _, receiverID := range receiverIDs {
		request, err := New(tx, NewPayRequestArgs{
			CreatorID:   creatorID,
			ReceiverID:  receiverID,
			AmountSat:   amountSat,
			Description: description,
			Meta:        meta,
		})
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		requests = append(requests, request)
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, "could not commit pay requests")
	}

	log.WithFields(map[string]interface{}{
		"creatorId": creatorID,
		"count":     len(requests),
	}).Debug("created pay requests")

	return requests, nil
}

// GetByID selects all columns for pay request where id=id
func GetByID(d db.Getter, id int) (PayRequest, error) {
	request := PayRequest{}
	query := fmt.Sprintf(`%s FROM pay_requests WHERE id=$1 LIMIT 1`,
		selectFromPayRequestsTable)

	if err := d.Get(&request, query, id); err != nil {
		if err == sql.ErrNoRows {
			return PayRequest{}, apierr.ErrPayRequestNotFound
		}
		return PayRequest{}, errors.Wrapf(err, "GetByID(d, %d)", id)
	}

	return request, nil
}

// GetByIDForReceiver looks up a pay request scoped to its designated
// receiver. A request belonging to someone else is indistinguishable from
// a missing one, the scoped lookup doubles as the authorization check.
func GetByIDForReceiver(d db.Getter, id, receiverID int) (PayRequest, error) {
	request := PayRequest{}
	query := fmt.Sprintf(
		`%s FROM pay_requests WHERE id=$1 AND receiver_id=$2 LIMIT 1`,
		selectFromPayRequestsTable)

	if err := d.Get(&request, query, id, receiverID); err != nil {
		if err == sql.ErrNoRows {
			return PayRequest{}, apierr.ErrPayRequestNotFound
		}
		return PayRequest{}, errors.Wrapf(err,
			"GetByIDForReceiver(d, %d, %d)", id, receiverID)
	}

	return request, nil
}

// GetByIDs selects the pay requests with the given ids
func GetByIDs(d *db.DB, ids []int) ([]PayRequest, error) {
	if len(ids) == 0 {
		return []PayRequest{}, nil
	}

	query, args, err := sqlx.In(fmt.Sprintf(
		`%s FROM pay_requests WHERE id IN (?) ORDER BY id`,
		selectFromPayRequestsTable), ids)
	if err != nil {
		return nil, errors.Wrap(err, "could not expand id list")
	}

	var requests []PayRequest
	if err := d.Select(&requests, d.Rebind(query), args...); err != nil {
		return nil, errors.Wrapf(err, "GetByIDs(d, %v)", ids)
	}

	return requests, nil
}

// MarkPaid flips paid from false to true. The conditional update is what
// guarantees a request settles at most once, even under concurrent
// settlement attempts.
func MarkPaid(d db.Getter, id int) (PayRequest, error) {
	request := PayRequest{}
	query := fmt.Sprintf(`UPDATE pay_requests
		SET paid = true, updated_at = NOW()
		WHERE id = $1 AND paid = false %s`, returningFromPayRequestsTable)

	if err := d.Get(&request, query, id); err != nil {
		if err == sql.ErrNoRows {
			return PayRequest{}, apierr.ErrPayRequestAlreadyPaid
		}
		return PayRequest{}, errors.Wrapf(err, "MarkPaid(d, %d)", id)
	}

	return request, nil
}

type dbScanner interface {
	Err() error
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
}

func scanPayRequest(rows dbScanner) (PayRequest, error) {
	defer db.CloseRows(rows)
	request := PayRequest{}

	if err := rows.Err(); err != nil {
		return request, err
	}

	if rows.Next() {
		if err := rows.Scan(
			&request.ID,
			&request.CreatorID,
			&request.ReceiverID,
			&request.AmountSat,
			&request.Description,
			&request.Meta,
			&request.Paid,
			&request.CreatedAt,
			&request.UpdatedAt,
		); err != nil {
			return request, errors.Wrap(
				err, "could not scan pay request returned from DB")
		}
	} else {
		return request, errors.New("given rows did not have any elements")
	}

	return request, nil
}
