// README: Smoke checks: environment, auth, session flow, submission race, journal and throughput.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusPending Status = "PENDING"
	StatusSkip    Status = "SKIP"
)

type Runner struct {
	cfg   Config
	token string
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  Status
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) (*Runner, error) {
	token := cfg.Token
	if token == "" && cfg.JWTSecret != "" {
		var err error
		if token, err = mintToken(cfg.JWTSecret, cfg.Issuer, cfg.User); err != nil {
			return nil, fmt.Errorf("mint token: %w", err)
		}
	}
	return &Runner{
		cfg:   cfg,
		token: token,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", nil, false, http.StatusOK)
		}},
		{Name: "Auth: missing token -> 401", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/session", nil, false, http.StatusUnauthorized)
		}},
		{Name: "Position: invalid coordinate -> 422", Run: func(ctx context.Context, r *Runner) Result {
			return r.authed(ctx, http.MethodPut, "/api/position", map[string]any{"lat": 123.0, "lng": 456.0}, http.StatusUnprocessableEntity)
		}},
		{Name: "Position: push reading", Run: func(ctx context.Context, r *Runner) Result {
			return r.authed(ctx, http.MethodPut, "/api/position", map[string]any{"lat": 59.437, "lng": 24.7536, "accuracy": 12}, http.StatusOK)
		}},
		{Name: "Position: unknown error code -> 400", Run: func(ctx context.Context, r *Runner) Result {
			return r.authed(ctx, http.MethodPost, "/api/position/error", map[string]any{"code": "NOPE"}, http.StatusBadRequest)
		}},
		{Name: "Session: open task", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.TaskID == "" {
				return Result{Status: StatusSkip, Note: "no -task given"}
			}
			return r.authed(ctx, http.MethodPost, "/api/tasks/"+r.cfg.TaskID+"/session", nil, http.StatusCreated)
		}},
		{Name: "Session: ranked locations", Run: func(ctx context.Context, r *Runner) Result {
			return r.withSession(ctx, http.MethodGet, "/api/session/locations?closest=3", nil, http.StatusOK)
		}},
		{Name: "Session: map view", Run: func(ctx context.Context, r *Runner) Result {
			return r.withSession(ctx, http.MethodGet, "/api/session/map", nil, http.StatusOK)
		}},
		{Name: "Session: event stream replay", Run: eventReplay},
		{Name: "Redis: catalog cached", Run: catalogCached},
		{Name: "Draft: set text", Run: func(ctx context.Context, r *Runner) Result {
			return r.withSession(ctx, http.MethodPut, "/api/session/draft/text", map[string]any{"text": "smoke check"}, http.StatusOK)
		}},
		{Name: "Concurrency: parallel submit admits one", Run: parallelSubmit},
		{Name: "Journal: transitions recorded", Run: journalRecorded},
		{Name: "Perf: position push throughput", Run: perfPositions},
		manualCase("Error: entity store down -> 503", "stop the entity store and open a session"),
		manualCase("Error: Redis down -> submit still admitted", "stop Redis and submit; guard errors are logged only"),
	}
}

func (r *Runner) do(ctx context.Context, method, path string, body any, auth bool) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth && r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, time.Since(start), nil
}

func (r *Runner) expect(ctx context.Context, method, path string, body any, auth bool, want int) Result {
	code, _, latency, err := r.do(ctx, method, path, body, auth)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	status := StatusPass
	if code != want {
		status = StatusFail
	}
	return Result{Status: status, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
}

func (r *Runner) authed(ctx context.Context, method, path string, body any, want int) Result {
	if r.token == "" {
		return Result{Status: StatusSkip, Note: "no token (-token or -jwt-secret)"}
	}
	return r.expect(ctx, method, path, body, true, want)
}

func (r *Runner) withSession(ctx context.Context, method, path string, body any, want int) Result {
	if r.cfg.TaskID == "" {
		return Result{Status: StatusSkip, Note: "no -task given"}
	}
	return r.authed(ctx, method, path, body, want)
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: StatusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
	}
	return Result{Status: StatusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass}
}

// eventReplay connects to the event stream and expects the replayed ranking.
func eventReplay(ctx context.Context, r *Runner) Result {
	if r.cfg.TaskID == "" || r.token == "" {
		return Result{Status: StatusSkip, Note: "needs -task and a token"}
	}
	url := "ws" + strings.TrimPrefix(r.cfg.BaseURL, "http") + "/api/session/events"
	start := time.Now()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{"Authorization": {"Bearer " + r.token}})
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var e struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&e); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if e.Type == "ranking" {
			return Result{Status: StatusPass, Latency: time.Since(start)}
		}
	}
}

func catalogCached(ctx context.Context, r *Runner) Result {
	if r.redis == nil || r.cfg.TaskID == "" {
		return Result{Status: StatusSkip, Note: "needs -redis and -task"}
	}
	n, err := r.redis.Exists(ctx, "catalog:task:"+r.cfg.TaskID).Result()
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if n == 0 {
		return Result{Status: StatusPending, Note: "no cached catalog; is the API running with Redis?"}
	}
	return Result{Status: StatusPass}
}

// parallelSubmit fires concurrent submits; at most one may be admitted.
func parallelSubmit(ctx context.Context, r *Runner) Result {
	if !r.cfg.Submit {
		return Result{Status: StatusSkip, Note: "creates a response; enable with -submit"}
	}
	if r.cfg.TaskID == "" || r.token == "" {
		return Result{Status: StatusSkip, Note: "needs -task and a token"}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
		errs     []error
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, _, _, err := r.do(ctx, http.MethodPost, "/api/session/submit", nil, true)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, err)
			case code == http.StatusAccepted:
				accepted++
			case code == http.StatusConflict:
				rejected++
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return Result{Status: StatusFail, Note: errors.Join(errs...).Error()}
	}
	if accepted != 1 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("accepted=%d rejected=%d", accepted, rejected)}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("accepted=1 rejected=%d", rejected)}
}

func journalRecorded(ctx context.Context, r *Runner) Result {
	if r.db == nil || !r.cfg.Submit || r.cfg.TaskID == "" {
		return Result{Status: StatusSkip, Note: "needs -dsn, -submit and -task"}
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		var n int
		err := r.db.QueryRow(ctx,
			"SELECT count(*) FROM submission_events WHERE user_id=$1 AND task_id=$2 AND to_phase IN ('succeeded','failed')",
			r.cfg.User, r.cfg.TaskID,
		).Scan(&n)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if n > 0 {
			return Result{Status: StatusPass, Note: fmt.Sprintf("terminal_events=%d", n)}
		}
		if time.Now().After(deadline) {
			return Result{Status: StatusFail, Note: "no terminal transition journaled"}
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func perfPositions(ctx context.Context, r *Runner) Result {
	if r.token == "" {
		return Result{Status: StatusSkip, Note: "no token"}
	}
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu       sync.Mutex
		count    int64
		errCount int64
		wg       sync.WaitGroup
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; time.Now().Before(end); n++ {
				body := map[string]any{"lat": 59.437 + float64(n%50)*0.0001, "lng": 24.7536}
				code, _, _, err := r.do(ctx, http.MethodPut, "/api/position", body, true)
				mu.Lock()
				if err != nil || code != http.StatusOK {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func manualCase(name, note string) TestCase {
	return TestCase{
		Name: name,
		Run: func(context.Context, *Runner) Result {
			return Result{Status: StatusSkip, Note: note}
		},
	}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
