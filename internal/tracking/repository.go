package tracking

import (
	"context"
	"errors"
	"time"

	"backend-runhub/internal/db"
	"backend-runhub/internal/run"

	"github.com/jackc/pgx/v5"
)

var ErrRunNotFound = errors.New("run not found")

type Repository struct {
	db db.Querier
}

func NewRepository(db db.Querier) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateRun(ctx context.Context, id, userID string, startedAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO runs (id, user_id, status, started_at)
		VALUES ($1,$2,$3,$4)
	`, id, userID, StatusActive, startedAt)
	return err
}

func (r *Repository) FinishRun(ctx context.Context, id string, out Outcome) error {
	s := out.Summary
	tag, err := r.db.Exec(ctx, `
		UPDATE runs
		SET status=$2, ended_at=$3, total_distance_m=$4, elapsed_sec=$5,
		    avg_pace_sec_per_km=$6, avg_cadence_spm=$7, max_cadence_spm=$8,
		    fastest_pace_sec_per_km=$9, fastest_lat=$10, fastest_lng=$11,
		    total_steps=$12, failure=NULLIF($13, '')
		WHERE id=$1
	`, id, out.Status, out.EndedAt, s.TotalDistanceMeters, s.ElapsedSeconds,
		s.AvgPaceSecPerKm, s.AvgCadenceSpm, s.MaxCadenceSpm,
		s.FastestPaceSecPerKm, s.CoordinateAtFastestPace.Lat, s.CoordinateAtFastestPace.Lng,
		s.TotalSteps, out.Failure)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// MarkFailed records a run that ended on a sensor failure with whatever
// was gathered before it.
func (r *Repository) MarkFailed(ctx context.Context, id string, endedAt time.Time, summary run.Summary, reason string) error {
	return r.FinishRun(ctx, id, Outcome{Status: StatusFailed, EndedAt: endedAt, Summary: summary, Failure: reason})
}

// SavePath writes the whole path in one statement.
func (r *Repository) SavePath(ctx context.Context, id string, path []run.PathPoint) error {
	if len(path) == 0 {
		return nil
	}
	seqs := make([]int32, len(path))
	lats := make([]float64, len(path))
	lngs := make([]float64, len(path))
	times := make([]time.Time, len(path))
	paces := make([]float64, len(path))
	zones := make([]string, len(path))
	for i, p := range path {
		seqs[i] = int32(i)
		lats[i] = p.Lat
		lngs[i] = p.Lng
		times[i] = p.Timestamp
		paces[i] = p.PaceSecPerKm
		zones[i] = string(p.Zone)
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO run_points (run_id, seq, lat, lng, recorded_at, pace_sec_per_km, zone)
		SELECT $1, t.seq, t.lat, t.lng, t.recorded_at, t.pace, t.zone
		FROM unnest($2::int[], $3::float8[], $4::float8[], $5::timestamptz[], $6::float8[], $7::text[])
		AS t(seq, lat, lng, recorded_at, pace, zone)
	`, id, seqs, lats, lngs, times, paces, zones)
	return err
}

func (r *Repository) GetRun(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, status, started_at, ended_at, total_distance_m, elapsed_sec,
		       avg_pace_sec_per_km, avg_cadence_spm, max_cadence_spm, fastest_pace_sec_per_km,
		       fastest_lat, fastest_lng, total_steps, COALESCE(failure, '')
		FROM runs WHERE id=$1
	`, id)

	var rec Record
	var s run.Summary
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Status, &rec.StartedAt, &rec.EndedAt,
		&s.TotalDistanceMeters, &s.ElapsedSeconds, &s.AvgPaceSecPerKm, &s.AvgCadenceSpm,
		&s.MaxCadenceSpm, &s.FastestPaceSecPerKm, &s.CoordinateAtFastestPace.Lat,
		&s.CoordinateAtFastestPace.Lng, &s.TotalSteps, &rec.Failure); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRunNotFound
		}
		return Record{}, err
	}
	if rec.EndedAt != nil {
		s.StartedAt = rec.StartedAt
		rec.Summary = &s
	}
	return rec, nil
}

func (r *Repository) Path(ctx context.Context, id string) ([]run.PathPoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT lat, lng, recorded_at, pace_sec_per_km, zone
		FROM run_points WHERE run_id=$1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []run.PathPoint{}
	for rows.Next() {
		var p run.PathPoint
		var zone string
		if err := rows.Scan(&p.Lat, &p.Lng, &p.Timestamp, &p.PaceSecPerKm, &zone); err != nil {
			return nil, err
		}
		p.Zone = run.PaceZone(zone)
		points = append(points, p)
	}
	return points, rows.Err()
}
