package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/roach88/catalog/internal/queryir"
	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/store"
)

// Compiler compiles query levels to parameterized SQL for one dialect.
//
// CRITICAL: ALL row queries include ORDER BY with a byte-order collation
// so pages and child lists are deterministic across backends.
// CRITICAL: All values AND JSON paths are parameterized, never interpolated.
type Compiler struct {
	Dialect store.Dialect
}

// NewCompiler creates a Compiler for the given dialect.
func NewCompiler(d store.Dialect) *Compiler {
	return &Compiler{Dialect: d}
}

// CompileRoots compiles one page of root candidates of type entity.
// Columns are (id, type, data, hash, seq), ordered by id.
//
// take must be positive; skip may be zero.
func (c *Compiler) CompileRoots(entity string, where queryir.Predicate, skip, take int) (string, []any, error) {
	if take <= 0 {
		return "", nil, fmt.Errorf("compile roots: take must be positive, got %d", take)
	}
	if skip < 0 {
		return "", nil, fmt.Errorf("compile roots: skip must not be negative, got %d", skip)
	}

	b := c.newBuilder()
	whereSQL, err := c.rootFilter(b, entity, where)
	if err != nil {
		return "", nil, fmt.Errorf("compile roots: %w", err)
	}

	sql := fmt.Sprintf("SELECT %s FROM snapshots WHERE %s ORDER BY id %s ASC LIMIT %s OFFSET %s",
		snapshotColumns,
		whereSQL,
		c.collation(),
		b.arg(take),
		b.arg(skip))
	return sql, b.args, nil
}

// CompileCount compiles the unpaginated count of root candidates.
func (c *Compiler) CompileCount(entity string, where queryir.Predicate) (string, []any, error) {
	b := c.newBuilder()
	whereSQL, err := c.rootFilter(b, entity, where)
	if err != nil {
		return "", nil, fmt.Errorf("compile count: %w", err)
	}
	return "SELECT COUNT(*) FROM snapshots WHERE " + whereSQL, b.args, nil
}

func (c *Compiler) rootFilter(b *builder, entity string, where queryir.Predicate) (string, error) {
	clause := "type = " + b.arg(entity)
	if where == nil {
		return clause, nil
	}
	pred, err := c.compilePredicate(b, "data", where)
	if err != nil {
		return "", err
	}
	return clause + " AND " + pred, nil
}

// CompileChildren compiles one batched read of the children of type
// childType reached through edges from the given parents.
//
// Columns are (parent_id, id, type, data, hash, seq). Rows are grouped by
// parent id and, within a parent, ordered by edge seq (the order the sync
// engine linked them).
func (c *Compiler) CompileChildren(parentType string, parentIDs []string, childType string, filter queryir.Predicate) (string, []any, error) {
	if len(parentIDs) == 0 {
		return "", nil, fmt.Errorf("compile children: no parent ids")
	}

	b := c.newBuilder()
	var sb strings.Builder
	sb.WriteString("SELECT e.parent_id, s.id, s.type, s.data, s.hash, s.seq")
	sb.WriteString(" FROM edges e JOIN snapshots s ON s.id = e.child_id AND s.type = e.child_type")
	sb.WriteString(" WHERE e.parent_type = " + b.arg(parentType))
	sb.WriteString(" AND e.child_type = " + b.arg(childType))

	placeholders := make([]string, len(parentIDs))
	for i, id := range parentIDs {
		placeholders[i] = b.arg(id)
	}
	sb.WriteString(" AND e.parent_id IN (" + strings.Join(placeholders, ", ") + ")")

	if filter != nil {
		pred, err := c.compilePredicate(b, "s.data", filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile children: %w", err)
		}
		sb.WriteString(" AND " + pred)
	}

	coll := c.collation()
	fmt.Fprintf(&sb, " ORDER BY e.parent_id %s ASC, e.seq ASC, s.id %s ASC", coll, coll)
	return sb.String(), b.args, nil
}

// compilePredicate compiles a predicate over the JSON column col.
// CRITICAL: Values NEVER interpolated - always placeholders.
func (c *Compiler) compilePredicate(b *builder, col string, p queryir.Predicate) (string, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil
	case queryir.Compare:
		return c.compileCompare(b, col, pred)
	case *queryir.Compare:
		return c.compileCompare(b, col, *pred)
	case queryir.In:
		return c.compileIn(b, col, pred)
	case *queryir.In:
		return c.compileIn(b, col, *pred)
	case queryir.Like:
		return c.compileLike(b, col, pred)
	case *queryir.Like:
		return c.compileLike(b, col, *pred)
	case queryir.IsNull:
		return c.compileIsNull(b, col, pred)
	case *queryir.IsNull:
		return c.compileIsNull(b, col, *pred)
	case queryir.And:
		return c.compileAnd(b, col, pred)
	case *queryir.And:
		return c.compileAnd(b, col, *pred)
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *Compiler) compileCompare(b *builder, col string, cmp queryir.Compare) (string, error) {
	op, ok := sqlOps[cmp.Op]
	if !ok {
		return "", fmt.Errorf("unsupported operator %q", cmp.Op)
	}
	field, err := c.extract(b, col, cmp.Field)
	if err != nil {
		return "", err
	}
	val, err := c.value(b, cmp.Value)
	if err != nil {
		return "", fmt.Errorf("field %q: %w", cmp.Field, err)
	}
	return fmt.Sprintf("%s %s %s", field, op, val), nil
}

func (c *Compiler) compileIn(b *builder, col string, in queryir.In) (string, error) {
	if len(in.Values) == 0 {
		return "1 = 0", nil // Matches nothing
	}
	field, err := c.extract(b, col, in.Field)
	if err != nil {
		return "", err
	}
	vals := make([]string, len(in.Values))
	for i, v := range in.Values {
		if vals[i], err = c.value(b, v); err != nil {
			return "", fmt.Errorf("field %q: %w", in.Field, err)
		}
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(vals, ", ")), nil
}

func (c *Compiler) compileLike(b *builder, col string, like queryir.Like) (string, error) {
	if c.Dialect == store.DialectPostgres {
		path, err := c.path(b, like.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s #>> %s) ILIKE %s", col, path, b.arg(like.Pattern)), nil
	}
	field, err := c.extract(b, col, like.Field)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s LIKE %s", field, b.arg(like.Pattern)), nil
}

func (c *Compiler) compileIsNull(b *builder, col string, n queryir.IsNull) (string, error) {
	if c.Dialect == store.DialectPostgres {
		path, err := c.path(b, n.Field)
		if err != nil {
			return "", err
		}
		op := "<>"
		if n.Null {
			op = "="
		}
		// A missing key and a JSON null are the same to callers.
		return fmt.Sprintf("COALESCE(%s #> %s, 'null'::jsonb) %s 'null'::jsonb", col, path, op), nil
	}
	field, err := c.extract(b, col, n.Field)
	if err != nil {
		return "", err
	}
	if n.Null {
		return field + " IS NULL", nil
	}
	return field + " IS NOT NULL", nil
}

// compileAnd compiles an And predicate to a parenthesized conjunction.
func (c *Compiler) compileAnd(b *builder, col string, and queryir.And) (string, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil // Always true (vacuous truth)
	}
	parts := make([]string, 0, len(and.Predicates))
	for _, p := range and.Predicates {
		sql, err := c.compilePredicate(b, col, p)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

// extract returns the expression reading field from the JSON column.
// SQLite yields SQL scalars; PostgreSQL yields jsonb, compared against
// jsonb-encoded parameters.
func (c *Compiler) extract(b *builder, col, field string) (string, error) {
	path, err := c.path(b, field)
	if err != nil {
		return "", err
	}
	if c.Dialect == store.DialectPostgres {
		return fmt.Sprintf("(%s #> %s)", col, path), nil
	}
	return fmt.Sprintf("json_extract(%s, %s)", col, path), nil
}

// path binds the JSON path of a dotted field name.
func (c *Compiler) path(b *builder, field string) (string, error) {
	segments, err := splitField(field)
	if err != nil {
		return "", err
	}
	if c.Dialect == store.DialectPostgres {
		return b.arg(pq.Array(segments)) + "::text[]", nil
	}
	var sb strings.Builder
	sb.WriteString("$")
	for _, seg := range segments {
		sb.WriteString(`."`)
		sb.WriteString(seg)
		sb.WriteString(`"`)
	}
	return b.arg(sb.String()), nil
}

// value binds a comparison operand.
func (c *Compiler) value(b *builder, v any) (string, error) {
	switch v.(type) {
	case string, bool, int64, float64:
	case int:
		v = int64(v.(int))
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
	if c.Dialect != store.DialectPostgres {
		return b.arg(v), nil
	}
	raw, err := record.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return b.arg(string(raw)) + "::jsonb", nil
}

func (c *Compiler) collation() string {
	if c.Dialect == store.DialectPostgres {
		return `COLLATE "C"`
	}
	return "COLLATE BINARY"
}

func splitField(field string) ([]string, error) {
	if field == "" {
		return nil, fmt.Errorf("empty field name")
	}
	segments := strings.Split(field, ".")
	for _, seg := range segments {
		if seg == "" || strings.ContainsAny(seg, `"\`) {
			return nil, fmt.Errorf("invalid field path %q", field)
		}
	}
	return segments, nil
}

const snapshotColumns = "id, type, data, hash, seq"

var sqlOps = map[queryir.Op]string{
	queryir.OpEq:  "=",
	queryir.OpNe:  "<>",
	queryir.OpGt:  ">",
	queryir.OpGte: ">=",
	queryir.OpLt:  "<",
	queryir.OpLte: "<=",
}

// builder collects parameters and renders dialect placeholders.
type builder struct {
	dollar bool
	args   []any
}

func (c *Compiler) newBuilder() *builder {
	return &builder{dollar: c.Dialect == store.DialectPostgres}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	if b.dollar {
		return "$" + strconv.Itoa(len(b.args))
	}
	return "?"
}
