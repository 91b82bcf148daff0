package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// SymbolMetadata is one row of the symbols registry.
type SymbolMetadata struct {
	Symbol    string
	Type      string // "classic" or "postgres_ref"
	RefSchema string
	RefTable  string
	RefField  string
	Owner     string
}

var pgSymbolRegex = regexp.MustCompile(`^(\w+)\.(\w+)\.(\w+)$`)

// -----------------------------------------------------------------------------

// SplitSymbolRefs separates schema.table.field references from plain symbols.
func SplitSymbolRefs(owner string, rawSymbols []string) (classic []string, refs []SymbolMetadata) {
	for _, sym := range rawSymbols {
		if m := pgSymbolRegex.FindStringSubmatch(sym); len(m) == 4 {
			refs = append(refs, SymbolMetadata{
				Symbol: sym, Type: "postgres_ref",
				RefSchema: m[1], RefTable: m[2], RefField: m[3],
				Owner: owner,
			})
			continue
		}
		classic = append(classic, sym)
	}
	return classic, refs
}

// -----------------------------------------------------------------------------

// ResolveSymbols expands every schema.table.field reference into the values
// of that column, registers the result and returns the plain symbol list.
func (d *PostgresDB) ResolveSymbols(ctx context.Context, owner string, rawSymbols []string) ([]string, error) {
	classic, refs := SplitSymbolRefs(owner, rawSymbols)
	registry := append([]SymbolMetadata(nil), refs...)

	for _, ref := range refs {
		loaded, err := d.GetSymbolsFromTable(ctx, ref.RefSchema, ref.RefTable, ref.RefField)
		if err != nil {
			return classic, fmt.Errorf("failed to load symbols from %s: %w", ref.Symbol, err)
		}
		classic = append(classic, loaded...)
	}
	for _, sym := range classic {
		registry = append(registry, SymbolMetadata{Symbol: sym, Type: "classic", Owner: owner})
	}

	if err := d.RegisterSymbols(ctx, registry); err != nil {
		return classic, fmt.Errorf("failed to register symbols: %w", err)
	}
	return classic, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createSymbolsTable() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."symbols" (
			symbol TEXT PRIMARY KEY,
			type TEXT,
			ref_schema TEXT,
			ref_table TEXT,
			ref_field TEXT,
			owner TEXT,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create symbols table: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) RegisterSymbols(ctx context.Context, symbols []SymbolMetadata) error {
	if len(symbols) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO "%s"."symbols" (symbol, type, ref_schema, ref_table, ref_field, owner, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol) DO UPDATE SET
			type = EXCLUDED.type,
			ref_schema = EXCLUDED.ref_schema,
			ref_table = EXCLUDED.ref_table,
			ref_field = EXCLUDED.ref_field,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at
	`, d.Schema))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, s := range symbols {
		if _, err := stmt.ExecContext(ctx, s.Symbol, s.Type, s.RefSchema, s.RefTable, s.RefField, s.Owner, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// -----------------------------------------------------------------------------

// GetSymbolsFromTable reads the non-empty values of schema.table.field.
// Identifiers come from pgSymbolRegex so quoting them is enough.
func (d *PostgresDB) GetSymbolsFromTable(ctx context.Context, schema, table, field string) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, fmt.Sprintf(`SELECT "%s" FROM "%s"."%s"`, field, schema, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols, rows.Err()
}
