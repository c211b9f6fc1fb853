package postgres

import (
	"fmt"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// listQuery appends the Since/Until filters of opts on column, then the
// ordering and pagination clauses, numbering placeholders after args.
func listQuery(query string, args []any, column, order string, opts domain.ListOpts) (string, []any) {
	next := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", column, next)
		args = append(args, *opts.Since)
		next++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", column, next)
		args = append(args, *opts.Until)
		next++
	}

	query += fmt.Sprintf(" ORDER BY %s %s", column, order)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", next)
		args = append(args, opts.Limit)
		next++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", next)
		args = append(args, opts.Offset)
	}
	return query, args
}
