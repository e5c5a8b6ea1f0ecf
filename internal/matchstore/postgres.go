// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package matchstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxotel"

	"github.com/cardinalhq/objalert/internal/analyzer"
	"github.com/cardinalhq/objalert/internal/matchstore/migrations"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres stores matches in the matches table.  The primary key on
// (sha256, rule_key) makes inserts idempotent.
type Postgres struct {
	db execer
}

var _ analyzer.MatchStore = (*Postgres)(nil)

const insertMatch = `
INSERT INTO matches
  (sha256, rule_key, rule_version, rule_file, rule_name, md5, location, logical_path, summary)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (sha256, rule_key) DO NOTHING`

const deleteMatch = `DELETE FROM matches WHERE sha256 = $1 AND rule_key = $2`

// NewPostgresPool opens a traced connection pool and brings the schema up
// to date.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.Tracer = &pgxotel.QueryTracer{
		Name: "matchstore",
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrations.RunMigrationsUp(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

func (p *Postgres) Save(ctx context.Context, rec *analyzer.Record, ruleVersion int) (bool, error) {
	es, err := entries(rec, ruleVersion)
	if err != nil {
		return false, err
	}
	first := false
	for _, e := range es {
		tag, err := p.db.Exec(ctx, insertMatch,
			e.SHA256, e.RuleKey, e.RuleVersion, e.RuleFile, e.RuleName,
			e.MD5, e.Location, e.LogicalPath, string(e.Summary))
		if err != nil {
			return first, fmt.Errorf("insert match %s/%s: %w", e.SHA256, e.RuleKey, err)
		}
		if tag.RowsAffected() > 0 {
			first = true
		}
	}
	return first, nil
}

func (p *Postgres) Forget(ctx context.Context, rec *analyzer.Record, ruleVersion int) error {
	es, err := entries(rec, ruleVersion)
	if err != nil {
		return err
	}
	for _, e := range es {
		if _, err := p.db.Exec(ctx, deleteMatch, e.SHA256, e.RuleKey); err != nil {
			return fmt.Errorf("delete match %s/%s: %w", e.SHA256, e.RuleKey, err)
		}
	}
	return nil
}
