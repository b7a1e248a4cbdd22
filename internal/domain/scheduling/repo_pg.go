package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// =========== Rule Repository ===========

type ruleRepoPG struct{ db queryable }

// NewRuleRepoPG reads rules straight from the backend's horarios_areas and
// horarios_coordinadores tables.
func NewRuleRepoPG(pool *pgxpool.Pool) RuleRepository { return &ruleRepoPG{db: pool} }

const ruleCols = `"Id"::text, "Dia_Semana", "Hora_Inicio", "Hora_Fin", "Tipo"::text, COALESCE("Descripcion", '')`

func (r *ruleRepoPG) AreaRules(ctx context.Context, area string, day *Weekday) ([]WeeklyRule, error) {
	query := `SELECT ` + ruleCols + ` FROM horarios_areas WHERE "Area" = $1`
	args := []interface{}{area}
	if day != nil {
		query += ` AND "Dia_Semana" = $2`
		args = append(args, int(*day))
	}
	query += ` ORDER BY "Dia_Semana", "Hora_Inicio"`
	return r.list(ctx, AreaScope(area), query, args...)
}

func (r *ruleRepoPG) CoordinatorRules(ctx context.Context, coordinatorID string, day *Weekday) ([]WeeklyRule, error) {
	query := `SELECT ` + ruleCols + ` FROM horarios_coordinadores WHERE "Usuario_Id" = $1::uuid`
	args := []interface{}{coordinatorID}
	if day != nil {
		query += ` AND "Dia_Semana" = $2`
		args = append(args, int(*day))
	}
	query += ` ORDER BY "Dia_Semana", "Hora_Inicio"`
	return r.list(ctx, CoordinatorScope(coordinatorID), query, args...)
}

func (r *ruleRepoPG) list(ctx context.Context, scope Scope, query string, args ...interface{}) ([]WeeklyRule, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s rules: %w", scope, err)
	}
	defer rows.Close()

	var items []WeeklyRule
	for rows.Next() {
		var (
			rule       WeeklyRule
			day        int
			start, end pgtype.Time
			kind       string
		)
		if err := rows.Scan(&rule.ID, &day, &start, &end, &kind, &rule.Description); err != nil {
			return nil, err
		}
		rule.Day = Weekday(day)
		rule.Start = pgTimeOfDay(start)
		rule.End = pgTimeOfDay(end)
		rule.Scope = scope
		if rule.Kind, err = ParseKind(kind); err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		items = append(items, rule)
	}
	return items, rows.Err()
}

// =========== Occupied Time Lookup ===========

type occupiedRepoPG struct{ db queryable }

// NewOccupiedRepoPG looks up active appointment times in the citas table.
// The area filter joins on the visited user's area.
func NewOccupiedRepoPG(pool *pgxpool.Pool) OccupiedTimeLookup { return &occupiedRepoPG{db: pool} }

func (r *occupiedRepoPG) OccupiedTimes(ctx context.Context, q OccupiedQuery) ([]TimeOfDay, error) {
	query := `
		SELECT c."Hora" FROM citas c
		JOIN usuarios u ON u."Id" = c."Usuario_Visitado"
		WHERE c."Fecha" = $1 AND COALESCE(c."Estado", 'activa') = 'activa'`
	args := []interface{}{q.Date.In(time.UTC)}
	idx := 2
	if q.Area != "" {
		query += fmt.Sprintf(` AND u."Area" = $%d`, idx)
		args = append(args, q.Area)
		idx++
	}
	if q.CoordinatorID != "" {
		query += fmt.Sprintf(` AND c."Usuario_Visitado" = $%d::uuid`, idx)
		args = append(args, q.CoordinatorID)
	}
	query += ` ORDER BY c."Hora"`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query occupied times: %w", err)
	}
	defer rows.Close()

	var times []TimeOfDay
	for rows.Next() {
		var t pgtype.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, pgTimeOfDay(t))
	}
	return times, rows.Err()
}

func pgTimeOfDay(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}
