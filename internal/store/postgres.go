package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perpetua/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Base-unit balances are stored as NUMERIC so the full uint64 range survives
// the round trip; nested config and telemetry structs are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool) error {
	perms, err := json.Marshal(p.Permissions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pools (id, name, custody_ids, lp_supply, permissions)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		p.ID, p.Name, p.CustodyIDs, u64str(p.LPSupply), perms,
	)
	return err
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	var p model.Pool
	var lpSupply string
	var perms []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, custody_ids, lp_supply::TEXT, permissions
		 FROM pools WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.CustodyIDs, &lpSupply, &perms)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: pool %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}

	if p.LPSupply, err = parseU64(lpSupply); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(perms, &p.Permissions); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) UpdatePool(ctx context.Context, p *model.Pool) error {
	perms, err := json.Marshal(p.Permissions)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pools SET custody_ids = $2, lp_supply = $3::NUMERIC, permissions = $4
		 WHERE id = $1`,
		p.ID, p.CustodyIDs, u64str(p.LPSupply), perms,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pool %s", ErrNotFound, p.ID)
	}
	return nil
}

func (s *PostgresStore) CreateCustody(ctx context.Context, c *model.Custody) error {
	blobs, err := custodyBlobs(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO custodies (id, pool_id, mint, decimals, is_stable, is_virtual,
		                        oracle, fees, pricing, permissions,
		                        owned, collateral, locked, protocol_fees,
		                        trade_stats, volume_stats, collected_fees)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14::NUMERIC, $15, $16, $17)`,
		c.ID, c.PoolID, c.Mint, int16(c.Decimals), c.IsStable, c.IsVirtual,
		blobs.oracle, blobs.fees, blobs.pricing, blobs.permissions,
		u64str(c.Assets.Owned), u64str(c.Assets.Collateral),
		u64str(c.Assets.Locked), u64str(c.Assets.ProtocolFees),
		blobs.tradeStats, blobs.volumeStats, blobs.collectedFees,
	)
	return err
}

func (s *PostgresStore) GetCustody(ctx context.Context, id string) (*model.Custody, error) {
	rows, err := s.pool.Query(ctx, custodySelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	custodies, err := scanCustodies(rows)
	if err != nil {
		return nil, fmt.Errorf("get custody %s: %w", id, err)
	}
	if len(custodies) == 0 {
		return nil, fmt.Errorf("%w: custody %s", ErrNotFound, id)
	}
	return &custodies[0], nil
}

func (s *PostgresStore) ListCustodies(ctx context.Context, poolID string) ([]model.Custody, error) {
	rows, err := s.pool.Query(ctx, custodySelect+` WHERE pool_id = $1 ORDER BY id`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCustodies(rows)
}

func (s *PostgresStore) UpdateCustody(ctx context.Context, c *model.Custody) error {
	blobs, err := custodyBlobs(c)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE custodies
		 SET owned = $2::NUMERIC, collateral = $3::NUMERIC,
		     locked = $4::NUMERIC, protocol_fees = $5::NUMERIC,
		     trade_stats = $6, volume_stats = $7, collected_fees = $8
		 WHERE id = $1`,
		c.ID,
		u64str(c.Assets.Owned), u64str(c.Assets.Collateral),
		u64str(c.Assets.Locked), u64str(c.Assets.ProtocolFees),
		blobs.tradeStats, blobs.volumeStats, blobs.collectedFees,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: custody %s", ErrNotFound, c.ID)
	}
	return nil
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, owner, pool_id, custody_id, collateral_custody_id, side,
		                        size_usd, collateral_usd, collateral_amount,
		                        entry_price_mantissa, entry_price_exponent,
		                        locked_amount, open_time, update_time)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12::NUMERIC, $13, $14)`,
		p.ID, p.Owner, p.PoolID, p.CustodyID, p.CollateralCustodyID, p.Side.String(),
		u64str(p.SizeUSD), u64str(p.CollateralUSD), u64str(p.CollateralAmount),
		u64str(p.EntryPrice.Mantissa), p.EntryPrice.Exponent,
		u64str(p.LockedAmount), p.OpenTime, p.UpdateTime,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	rows, err := s.pool.Query(ctx, positionSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	return &positions[0], nil
}

func (s *PostgresStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, positionSelect+` WHERE owner = $1 ORDER BY open_time`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET size_usd = $2::NUMERIC, collateral_usd = $3::NUMERIC,
		     collateral_amount = $4::NUMERIC, locked_amount = $5::NUMERIC,
		     update_time = $6
		 WHERE id = $1`,
		p.ID,
		u64str(p.SizeUSD), u64str(p.CollateralUSD),
		u64str(p.CollateralAmount), u64str(p.LockedAmount),
		p.UpdateTime,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: position %s", ErrNotFound, p.ID)
	}
	return nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	return nil
}

const custodySelect = `SELECT id, pool_id, mint, decimals, is_stable, is_virtual,
       oracle, fees, pricing, permissions,
       owned::TEXT, collateral::TEXT, locked::TEXT, protocol_fees::TEXT,
       trade_stats, volume_stats, collected_fees
  FROM custodies`

const positionSelect = `SELECT id, owner, pool_id, custody_id, collateral_custody_id, side,
       size_usd::TEXT, collateral_usd::TEXT, collateral_amount::TEXT,
       entry_price_mantissa::TEXT, entry_price_exponent,
       locked_amount::TEXT, open_time, update_time
  FROM positions`

type custodyJSON struct {
	oracle, fees, pricing, permissions     []byte
	tradeStats, volumeStats, collectedFees []byte
}

func custodyBlobs(c *model.Custody) (custodyJSON, error) {
	var b custodyJSON
	var err error
	if b.oracle, err = json.Marshal(c.Oracle); err != nil {
		return b, err
	}
	if b.fees, err = json.Marshal(c.Fees); err != nil {
		return b, err
	}
	if b.pricing, err = json.Marshal(c.Pricing); err != nil {
		return b, err
	}
	if b.permissions, err = json.Marshal(c.Permissions); err != nil {
		return b, err
	}
	if b.tradeStats, err = json.Marshal(c.TradeStats); err != nil {
		return b, err
	}
	if b.volumeStats, err = json.Marshal(c.VolumeStats); err != nil {
		return b, err
	}
	if b.collectedFees, err = json.Marshal(c.CollectedFees); err != nil {
		return b, err
	}
	return b, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanCustodies(rows pgxRows) ([]model.Custody, error) {
	var custodies []model.Custody
	for rows.Next() {
		var c model.Custody
		var decimals int16
		var oracleB, feesB, pricingB, permsB, tradeB, volumeB, collectedB []byte
		var owned, collateral, locked, protocolFees string

		if err := rows.Scan(&c.ID, &c.PoolID, &c.Mint, &decimals, &c.IsStable, &c.IsVirtual,
			&oracleB, &feesB, &pricingB, &permsB,
			&owned, &collateral, &locked, &protocolFees,
			&tradeB, &volumeB, &collectedB); err != nil {
			return nil, err
		}
		c.Decimals = uint8(decimals)

		for _, pair := range []struct {
			data []byte
			dst  interface{}
		}{
			{oracleB, &c.Oracle}, {feesB, &c.Fees}, {pricingB, &c.Pricing},
			{permsB, &c.Permissions}, {tradeB, &c.TradeStats},
			{volumeB, &c.VolumeStats}, {collectedB, &c.CollectedFees},
		} {
			if err := json.Unmarshal(pair.data, pair.dst); err != nil {
				return nil, err
			}
		}

		var err error
		if c.Assets.Owned, err = parseU64(owned); err != nil {
			return nil, err
		}
		if c.Assets.Collateral, err = parseU64(collateral); err != nil {
			return nil, err
		}
		if c.Assets.Locked, err = parseU64(locked); err != nil {
			return nil, err
		}
		if c.Assets.ProtocolFees, err = parseU64(protocolFees); err != nil {
			return nil, err
		}
		custodies = append(custodies, c)
	}
	return custodies, rows.Err()
}

func scanPositions(rows pgxRows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var side string
		var sizeUSD, collateralUSD, collateralAmount, mantissa, lockedAmount string

		if err := rows.Scan(&p.ID, &p.Owner, &p.PoolID, &p.CustodyID, &p.CollateralCustodyID, &side,
			&sizeUSD, &collateralUSD, &collateralAmount,
			&mantissa, &p.EntryPrice.Exponent,
			&lockedAmount, &p.OpenTime, &p.UpdateTime); err != nil {
			return nil, err
		}
		if side == model.Short.String() {
			p.Side = model.Short
		}

		var err error
		if p.SizeUSD, err = parseU64(sizeUSD); err != nil {
			return nil, err
		}
		if p.CollateralUSD, err = parseU64(collateralUSD); err != nil {
			return nil, err
		}
		if p.CollateralAmount, err = parseU64(collateralAmount); err != nil {
			return nil, err
		}
		if p.EntryPrice.Mantissa, err = parseU64(mantissa); err != nil {
			return nil, err
		}
		if p.LockedAmount, err = parseU64(lockedAmount); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func u64str(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse base-unit amount %q: %w", s, err)
	}
	return v, nil
}
