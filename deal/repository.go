package deal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dealflow/keyexchange"
)

// ErrSerialization signals a record could not be round-tripped through its
// persisted form.
var ErrSerialization = errors.New("deal: serialization failed")

// Repository persists deal records. All methods run inside the caller's
// transaction; loads for mutation lock the row so a command owns its deal
// until commit.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const dealColumns = `
	id, kind, status, initiator_id, acceptor_id, recipient_id,
	goods_name, goods_description, quantity,
	payment, insurance,
	location, scheduled_at, pickup_location, pickup_at,
	keys, custody_ref, created_at, updated_at
`

// Insert stores a freshly listed deal.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, d *Deal) error {
	location, keys, pickup, err := encodeDeal(d)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO deals (
			id, kind, status, initiator_id, acceptor_id, recipient_id,
			goods_name, goods_description, quantity,
			payment, insurance,
			location, scheduled_at, pickup_location, pickup_at,
			keys, custody_ref
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		d.ID, d.Kind, d.Status, d.InitiatorID, d.AcceptorID, d.RecipientID,
		d.GoodsName, d.GoodsDescription, d.Quantity,
		d.Payment, d.Insurance,
		location, d.ScheduledAt, pickup, d.PickupAt,
		keys, d.CustodyRef,
	); err != nil {
		return fmt.Errorf("deal: insert: %w", err)
	}
	return nil
}

// GetForUpdate loads a deal and locks its row for the remainder of the
// transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Deal, error) {
	row := tx.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1 FOR UPDATE`, id)
	d, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("deal: query for update: %w", err)
	}
	return d, nil
}

// Update persists the mutated fields of a deal after a transition.
func (r *Repository) Update(ctx context.Context, tx pgx.Tx, d *Deal) error {
	_, keys, _, err := encodeDeal(d)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE deals
		SET status = $2,
		    acceptor_id = $3,
		    keys = $4,
		    updated_at = now()
		WHERE id = $1
	`, d.ID, d.Status, d.AcceptorID, keys)
	if err != nil {
		return fmt.Errorf("deal: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeDeal(d *Deal) (location, keys []byte, pickup []byte, err error) {
	location, err = json.Marshal(d.Location)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: marshal location: %v", ErrSerialization, err)
	}
	keys, err = json.Marshal(d.Keys)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: marshal key set: %v", ErrSerialization, err)
	}
	if d.PickupLocation != nil {
		pickup, err = json.Marshal(d.PickupLocation)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: marshal pickup location: %v", ErrSerialization, err)
		}
	}
	return location, keys, pickup, nil
}

func scanDeal(row pgx.Row) (*Deal, error) {
	var (
		d        Deal
		location []byte
		pickup   []byte
		keys     []byte
	)
	err := row.Scan(
		&d.ID, &d.Kind, &d.Status, &d.InitiatorID, &d.AcceptorID, &d.RecipientID,
		&d.GoodsName, &d.GoodsDescription, &d.Quantity,
		&d.Payment, &d.Insurance,
		&location, &d.ScheduledAt, &pickup, &d.PickupAt,
		&keys, &d.CustodyRef, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(location, &d.Location); err != nil {
		return nil, fmt.Errorf("%w: unmarshal location: %v", ErrSerialization, err)
	}
	if len(pickup) > 0 {
		var loc Location
		if err := json.Unmarshal(pickup, &loc); err != nil {
			return nil, fmt.Errorf("%w: unmarshal pickup location: %v", ErrSerialization, err)
		}
		d.PickupLocation = &loc
	}
	d.Keys = keyexchange.Set{}
	if len(keys) > 0 {
		if err := json.Unmarshal(keys, &d.Keys); err != nil {
			return nil, fmt.Errorf("%w: unmarshal key set: %v", ErrSerialization, err)
		}
	}
	return &d, nil
}
